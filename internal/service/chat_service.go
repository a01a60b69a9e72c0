// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/log"
	"strings"
	"time"
)

// persistTimeout 是保存一轮对话的超时时间。
const persistTimeout = 5 * time.Second

// ErrInvalidMessage 表示待保存的消息缺少必要字段。
var ErrInvalidMessage = errors.New("invalid chat message")

// ChatService 负责生成回复并记录对话。
type ChatService interface {
	// Respond 执行生成流水线；成功后在请求仍然有效时保存用户与助手两条消息。
	Respond(ctx context.Context, req model.GenerateRequest, observer ProgressObserver) (*model.ChatResponse, error)
	History(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error)
	UserMessages(ctx context.Context, userID string, limit, offset int) ([]model.ChatMessage, error)
	GetMessage(ctx context.Context, messageID string) (*model.ChatMessage, error)
	DeleteMessage(ctx context.Context, messageID string) (bool, error)
	SaveMessage(ctx context.Context, message *model.ChatMessage) (*model.ChatMessage, error)
}

type chatService struct {
	generator Generator
	store     repository.ChatStore
	now       func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(generator Generator, store repository.ChatStore) ChatService {
	return &chatService{generator: generator, store: store, now: time.Now}
}

// Respond 生成原型回复；持久化失败只记录日志，不影响已经计算出的回复。
func (s *chatService) Respond(ctx context.Context, req model.GenerateRequest, observer ProgressObserver) (*model.ChatResponse, error) {
	gen, err := s.generator.Run(ctx, req.Prompt, observer)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		// 请求已取消，结果丢弃，不写入存储
		log.Infof("[ChatService] 请求已取消，跳过保存, conversation: %s", req.Conversation())
		return &gen.Response, nil
	}
	s.persistTurn(ctx, req, gen)
	return &gen.Response, nil
}

func (s *chatService) persistTurn(ctx context.Context, req model.GenerateRequest, gen *Generation) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	userAt := req.SentAt(s.now())
	assistantAt := gen.Response.Time
	if !assistantAt.After(userAt) {
		assistantAt = userAt.Add(time.Millisecond)
	}

	turns := []*model.ChatMessage{
		{
			ConversationID: req.Conversation(),
			SenderID:       req.UserID,
			Content:        gen.Sanitized.CleanText,
			Timestamp:      userAt,
		},
		{
			ConversationID: req.Conversation(),
			SenderID:       model.AssistantSenderID,
			Content:        gen.Response.Response,
			Timestamp:      assistantAt,
			Metadata: map[string]interface{}{
				"stage2_outcome": gen.Outcome.Kind.String(),
				"template_count": gen.Templates,
				"in_reply_to":    req.UserID,
			},
		},
	}
	for _, m := range turns {
		ok, err := s.store.Save(saveCtx, m)
		if err != nil {
			log.Errorw("[ChatService] PersistenceError: 保存消息失败",
				"conversation", m.ConversationID, "sender", m.SenderID, "error", err)
			continue
		}
		if !ok {
			log.Warnw("[ChatService] PersistenceError: 消息未被接受", "messageId", m.ID)
		}
	}
}

// History 按时间升序返回会话中的消息。
func (s *chatService) History(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error) {
	if conversationID == "" {
		conversationID = model.DefaultConversationID
	}
	return s.store.GetByConversation(ctx, conversationID, limit, offset)
}

// UserMessages 返回某个用户发送的消息。
func (s *chatService) UserMessages(ctx context.Context, userID string, limit, offset int) ([]model.ChatMessage, error) {
	return s.store.GetByUser(ctx, userID, limit, offset)
}

// GetMessage 根据 ID 获取消息。
func (s *chatService) GetMessage(ctx context.Context, messageID string) (*model.ChatMessage, error) {
	return s.store.GetByID(ctx, messageID)
}

// DeleteMessage 删除消息，不存在时返回 false。
func (s *chatService) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	return s.store.Delete(ctx, messageID)
}

// SaveMessage 直接保存一条消息，ID 由存储分配。
func (s *chatService) SaveMessage(ctx context.Context, message *model.ChatMessage) (*model.ChatMessage, error) {
	if message == nil || strings.TrimSpace(message.Content) == "" || message.SenderID == "" {
		return nil, ErrInvalidMessage
	}
	if message.ConversationID == "" {
		message.ConversationID = model.DefaultConversationID
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = s.now()
	}
	ok, err := s.store.Save(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %s already exists", ErrInvalidMessage, message.ID)
	}
	return message, nil
}
