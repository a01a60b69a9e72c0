// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultConversationID 是请求未指定会话时使用的会话 ID。
const DefaultConversationID = "default-conversation"

// AssistantSenderID 是助手回复消息的发送者 ID。
const AssistantSenderID = "assistant"

// ChatMessage 代表会话中的一条消息，存储后不可变。
type ChatMessage struct {
	ID             string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConversationID string            `gorm:"type:varchar(128);index;not null" json:"conversationId"`
	SenderID       string            `gorm:"type:varchar(128);index;not null" json:"senderId"`
	Content        string            `gorm:"type:text;not null" json:"content"`
	Timestamp      time.Time         `gorm:"index;not null" json:"timestamp"`
	Metadata       datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// GenerateRequest 是生成接口的入站请求体。
type GenerateRequest struct {
	UserID         string `json:"userID" binding:"required"`
	Time           string `json:"time"`
	Prompt         string `json:"prompt" binding:"required"`
	ConversationID string `json:"conversationId"`
}

// Conversation 返回请求的会话 ID，未指定时使用默认会话。
func (r GenerateRequest) Conversation() string {
	if r.ConversationID == "" {
		return DefaultConversationID
	}
	return r.ConversationID
}

// SentAt 解析请求中的时间（RFC3339），解析失败或缺失时返回 fallback。
func (r GenerateRequest) SentAt(fallback time.Time) time.Time {
	if r.Time == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, r.Time); err == nil {
			return t
		}
	}
	return fallback
}

// ChatResponse 是返回给调用方的最终生成结果。
type ChatResponse struct {
	Response string    `json:"response"`
	Time     time.Time `json:"time"`
}
