package repository

import (
	"context"
	"errors"
	"protoforge/internal/model"
	"sort"
	"sync"
)

// MemoryChatStore 是进程内的有界聊天存储，容量满时淘汰时间最早的消息。
type MemoryChatStore struct {
	mu       sync.RWMutex
	capacity int
	messages map[string]model.ChatMessage
}

// NewMemoryChatStore 创建内存聊天存储，capacity<=0 时不设上限。
func NewMemoryChatStore(capacity int) *MemoryChatStore {
	return &MemoryChatStore{
		capacity: capacity,
		messages: make(map[string]model.ChatMessage),
	}
}

// Save 保存一条消息。
func (s *MemoryChatStore) Save(ctx context.Context, message *model.ChatMessage) (bool, error) {
	if message == nil {
		return false, errors.New("nil chat message")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	prepareMessage(message)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[message.ID]; exists {
		// 消息一经存储不可变
		return false, nil
	}
	if s.capacity > 0 && len(s.messages) >= s.capacity {
		s.evictOldestLocked()
	}
	s.messages[message.ID] = cloneMessage(*message)
	return true, nil
}

func (s *MemoryChatStore) evictOldestLocked() {
	var oldestID string
	var oldest model.ChatMessage
	for id, m := range s.messages {
		if oldestID == "" || m.Timestamp.Before(oldest.Timestamp) {
			oldestID, oldest = id, m
		}
	}
	delete(s.messages, oldestID)
}

// GetByID 根据 ID 获取消息。
func (s *MemoryChatStore) GetByID(ctx context.Context, messageID string) (*model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	out := cloneMessage(m)
	return &out, nil
}

// GetByConversation 按时间升序分页返回会话中的消息。
func (s *MemoryChatStore) GetByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error) {
	return s.filter(func(m model.ChatMessage) bool { return m.ConversationID == conversationID }, limit, offset), nil
}

// GetByUser 按时间升序分页返回某个发送者的消息。
func (s *MemoryChatStore) GetByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatMessage, error) {
	return s.filter(func(m model.ChatMessage) bool { return m.SenderID == userID }, limit, offset), nil
}

// Delete 删除消息。
func (s *MemoryChatStore) Delete(ctx context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return false, nil
	}
	delete(s.messages, messageID)
	return true, nil
}

func (s *MemoryChatStore) filter(keep func(model.ChatMessage) bool, limit, offset int) []model.ChatMessage {
	limit, offset = normalizePage(limit, offset)

	s.mu.RLock()
	matched := make([]model.ChatMessage, 0)
	for _, m := range s.messages {
		if keep(m) {
			matched = append(matched, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if offset >= len(matched) {
		return []model.ChatMessage{}
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end]
}

func cloneMessage(m model.ChatMessage) model.ChatMessage {
	if m.Metadata != nil {
		meta := make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			meta[k] = v
		}
		m.Metadata = meta
	}
	return m
}
