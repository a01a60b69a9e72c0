// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"protoforge/internal/model"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPageLimit 是分页查询的默认条数。
	DefaultPageLimit = 50
)

// ErrMessageNotFound 表示消息不存在。
var ErrMessageNotFound = errors.New("chat message not found")

// ChatStore 定义了聊天消息的持久化能力集合，内存实现与 Redis 实现可互换。
type ChatStore interface {
	// Save 保存一条消息，ID 为空时分配新 ID；返回写入是否被接受。
	Save(ctx context.Context, message *model.ChatMessage) (bool, error)
	GetByID(ctx context.Context, messageID string) (*model.ChatMessage, error)
	// GetByConversation 按时间升序返回会话中的消息，limit<=0 时取默认值。
	GetByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error)
	// GetByUser 按时间升序返回某个发送者的消息。
	GetByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatMessage, error)
	// Delete 删除消息；消息不存在时返回 false 而非错误。
	Delete(ctx context.Context, messageID string) (bool, error)
}

// normalizePage 规范化分页参数。
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// prepareMessage 为消息补齐 ID 与时间戳。
func prepareMessage(message *model.ChatMessage) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
}
