package service

import (
	"context"
	"errors"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/llm"
	"protoforge/pkg/tasks"
	"strings"
	"sync"
	"time"
)

// scriptedLLM 按调用顺序返回预设结果，并记录每次调用的模型与提示词。
type scriptedLLM struct {
	mu      sync.Mutex
	replies []llmReply
	prompts []string
	models  []string
}

type llmReply struct {
	text string
	err  error
}

func (f *scriptedLLM) Invoke(ctx context.Context, prompt, model string) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	if len(f.replies) == 0 {
		return nil, &llm.Error{Kind: llm.Unreachable, Err: errors.New("no scripted reply")}
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Text: r.text, Time: time.Now()}, nil
}

type fakeRetriever struct {
	templates []string
	calls     int
	queries   []string
}

func (f *fakeRetriever) FetchTemplates(ctx context.Context, prompt string) []string {
	f.calls++
	f.queries = append(f.queries, prompt)
	return f.templates
}

func (f *fakeRetriever) Matches(ctx context.Context, prompt string) []model.TemplateMatch {
	out := make([]model.TemplateMatch, 0, len(f.templates))
	for i, t := range f.FetchTemplates(ctx, prompt) {
		out = append(out, model.TemplateMatch{ID: string(rune('a' + i)), Content: t})
	}
	return out
}

type fakeEmbedder struct {
	err    error
	labels []string
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text, label string) ([]float32, error) {
	f.labels = append(f.labels, label)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, queryText string, topK int) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.ids) > topK {
		return f.ids[:topK], nil
	}
	return f.ids, nil
}

// memoryCatalog 是 repository.TemplateRepository 的内存实现。
type memoryCatalog struct {
	mu    sync.Mutex
	items map[string]model.Template
}

func newMemoryCatalog(items ...model.Template) *memoryCatalog {
	c := &memoryCatalog{items: make(map[string]model.Template)}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *memoryCatalog) Save(ctx context.Context, t *model.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[t.ID] = *t
	return nil
}

func (c *memoryCatalog) GetByID(ctx context.Context, id string) (*model.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.items[id]
	if !ok {
		return nil, repository.ErrTemplateNotFound
	}
	return &t, nil
}

func (c *memoryCatalog) GetByName(ctx context.Context, name string) (*model.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.items {
		if t.Name == name {
			t := t
			return &t, nil
		}
	}
	return nil, repository.ErrTemplateNotFound
}

func (c *memoryCatalog) List(ctx context.Context) ([]model.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Template, 0, len(c.items))
	for _, t := range c.items {
		out = append(out, t)
	}
	return out, nil
}

func (c *memoryCatalog) Delete(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	delete(c.items, id)
	return ok, nil
}

// countingStore 包装一个 ChatStore 并记录调用次数。
type countingStore struct {
	repository.ChatStore
	mu    sync.Mutex
	saves int
	err   error
}

func (s *countingStore) Save(ctx context.Context, m *model.ChatMessage) (bool, error) {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.ChatStore.Save(ctx, m)
}

type fakePublisher struct {
	tasks []tasks.TemplateIndexTask
	err   error
}

func (f *fakePublisher) PublishTemplateTask(ctx context.Context, task tasks.TemplateIndexTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeIndexer struct {
	deleted []string
}

func (f *fakeIndexer) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
