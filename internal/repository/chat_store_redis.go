package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"protoforge/internal/model"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisChatStore 是基于 Redis 的聊天存储。
// 消息体存储在 chat:msg:{id}，会话与用户索引为以时间戳为分值的有序集合。
type RedisChatStore struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewRedisChatStore 创建 Redis 聊天存储，ttl 为 0 时消息不过期。
func NewRedisChatStore(redisClient *redis.Client, ttl time.Duration) *RedisChatStore {
	return &RedisChatStore{redisClient: redisClient, ttl: ttl}
}

func messageKey(id string) string          { return "chat:msg:" + id }
func conversationKey(convID string) string { return "chat:conv:" + convID }
func userMessagesKey(userID string) string { return "chat:user:" + userID }

// indexMember 以补零的纳秒时间戳作为成员前缀；float64 分值精度不足以区分相近的时间戳，
// 分值相同时 Redis 按成员字典序排序，前缀保证顺序仍按时间升序。
func indexMember(m *model.ChatMessage) string {
	return fmt.Sprintf("%019d:%s", m.Timestamp.UnixNano(), m.ID)
}

// memberID 从索引成员中取出消息 ID。
func memberID(member string) string {
	if i := strings.IndexByte(member, ':'); i >= 0 {
		return member[i+1:]
	}
	return member
}

// Save 保存一条消息；ID 已存在时不覆盖并返回 false。
func (r *RedisChatStore) Save(ctx context.Context, message *model.ChatMessage) (bool, error) {
	if message == nil {
		return false, errors.New("nil chat message")
	}
	prepareMessage(message)

	data, err := json.Marshal(message)
	if err != nil {
		return false, fmt.Errorf("failed to marshal chat message: %w", err)
	}

	accepted, err := r.redisClient.SetNX(ctx, messageKey(message.ID), data, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to save chat message: %w", err)
	}
	if !accepted {
		return false, nil
	}

	score := float64(message.Timestamp.UnixNano())
	member := indexMember(message)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, conversationKey(message.ConversationID), &redis.Z{Score: score, Member: member})
		pipe.ZAdd(ctx, userMessagesKey(message.SenderID), &redis.Z{Score: score, Member: member})
		if r.ttl > 0 {
			pipe.Expire(ctx, conversationKey(message.ConversationID), r.ttl)
			pipe.Expire(ctx, userMessagesKey(message.SenderID), r.ttl)
		}
		return nil
	})
	if err != nil {
		_ = r.redisClient.Del(ctx, messageKey(message.ID)).Err()
		return false, fmt.Errorf("failed to index chat message: %w", err)
	}
	return true, nil
}

// GetByID 根据 ID 获取消息。
func (r *RedisChatStore) GetByID(ctx context.Context, messageID string) (*model.ChatMessage, error) {
	data, err := r.redisClient.Get(ctx, messageKey(messageID)).Bytes()
	if err == redis.Nil {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat message: %w", err)
	}
	var m model.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
	}
	return &m, nil
}

// GetByConversation 按时间升序分页返回会话中的消息。
func (r *RedisChatStore) GetByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.ChatMessage, error) {
	return r.page(ctx, conversationKey(conversationID), limit, offset)
}

// GetByUser 按时间升序分页返回某个发送者的消息。
func (r *RedisChatStore) GetByUser(ctx context.Context, userID string, limit, offset int) ([]model.ChatMessage, error) {
	return r.page(ctx, userMessagesKey(userID), limit, offset)
}

func (r *RedisChatStore) page(ctx context.Context, indexKey string, limit, offset int) ([]model.ChatMessage, error) {
	limit, offset = normalizePage(limit, offset)
	members, err := r.redisClient.ZRange(ctx, indexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message index: %w", err)
	}
	if len(members) == 0 {
		return []model.ChatMessage{}, nil
	}

	keys := make([]string, len(members))
	for i, member := range members {
		keys[i] = messageKey(memberID(member))
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat messages: %w", err)
	}

	messages := make([]model.ChatMessage, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// 消息体已过期或被删除，清理索引中的残留成员
			stale = append(stale, members[i])
			continue
		}
		var m model.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		messages = append(messages, m)
	}
	if len(stale) > 0 {
		_ = r.redisClient.ZRem(ctx, indexKey, stale...).Err()
	}
	return messages, nil
}

// Delete 删除消息及其索引；消息不存在时返回 false。
func (r *RedisChatStore) Delete(ctx context.Context, messageID string) (bool, error) {
	m, err := r.GetByID(ctx, messageID)
	if errors.Is(err, ErrMessageNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	member := indexMember(m)
	var deleted *redis.IntCmd
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, messageKey(messageID))
		pipe.ZRem(ctx, conversationKey(m.ConversationID), member)
		pipe.ZRem(ctx, userMessagesKey(m.SenderID), member)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete chat message: %w", err)
	}
	return deleted.Val() > 0, nil
}
