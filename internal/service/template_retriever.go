package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"protoforge/internal/config"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/embedding"
	"protoforge/pkg/log"
	"protoforge/pkg/storage"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

var (
	errEmptyTemplate   = errors.New("template body is empty")
	errInvalidEncoding = errors.New("template body is not valid UTF-8")
)

// TemplateSearcher 按向量与查询文本检索模板 ID，结果按相关度排序。
type TemplateSearcher interface {
	Search(ctx context.Context, vector []float32, queryText string, topK int) ([]string, error)
}

// TemplateRetriever 将提示词解析为若干模板正文，用作第二阶段的参考上下文。
type TemplateRetriever interface {
	// FetchTemplates 从不向调用方返回错误：内部失败降级为空列表或跳过单个模板。
	FetchTemplates(ctx context.Context, prompt string) []string
	// Matches 与 FetchTemplates 相同，但保留每个命中的 ID 与 URI。
	Matches(ctx context.Context, prompt string) []model.TemplateMatch
}

type templateRetriever struct {
	embedder      embedding.Client
	index         TemplateSearcher
	catalog       repository.TemplateRepository
	store         storage.ObjectStore
	defaultBucket string
	topK          int
	timeout       time.Duration
	concurrency   int
}

// NewTemplateRetriever 创建一个新的 TemplateRetriever 实例。
func NewTemplateRetriever(
	embedder embedding.Client,
	index TemplateSearcher,
	catalog repository.TemplateRepository,
	store storage.ObjectStore,
	defaultBucket string,
	cfg config.RetrievalConfig,
) TemplateRetriever {
	r := &templateRetriever{
		embedder:      embedder,
		index:         index,
		catalog:       catalog,
		store:         store,
		defaultBucket: defaultBucket,
		topK:          cfg.TopK,
		timeout:       cfg.Timeout,
		concurrency:   cfg.Concurrency,
	}
	if r.topK <= 0 {
		r.topK = 3
	}
	if r.timeout <= 0 {
		r.timeout = 10 * time.Second
	}
	if r.concurrency <= 0 {
		r.concurrency = 4
	}
	return r
}

// FetchTemplates 返回按检索排名排序的模板正文。
func (r *templateRetriever) FetchTemplates(ctx context.Context, prompt string) []string {
	matches := r.Matches(ctx, prompt)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Content)
	}
	return out
}

// Matches 依次执行向量化、检索，再并发解析每个命中的目录项与对象内容。
func (r *templateRetriever) Matches(ctx context.Context, prompt string) []model.TemplateMatch {
	if strings.TrimSpace(prompt) == "" {
		return []model.TemplateMatch{}
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	vector, err := r.embedder.CreateEmbedding(embedCtx, prompt, embedding.LabelQuery)
	cancel()
	if err != nil {
		log.Warnw("[TemplateRetriever] TemplateRetrievalDegraded: 向量化失败", "stage", "embed", "error", err)
		return []model.TemplateMatch{}
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	ids, err := r.index.Search(searchCtx, vector, prompt, r.topK)
	cancel()
	if err != nil {
		log.Warnw("[TemplateRetriever] TemplateRetrievalDegraded: 检索失败", "stage", "search", "error", err)
		return []model.TemplateMatch{}
	}
	if len(ids) == 0 {
		return []model.TemplateMatch{}
	}

	// 每个 goroutine 只写自己的槽位，结果保持检索排名顺序
	slots := make([]*model.TemplateMatch, len(ids))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, err := r.resolve(ctx, id)
			if err != nil {
				log.Warnw("[TemplateRetriever] 跳过模板", "templateId", id, "error", err)
				return nil
			}
			slots[i] = m
			return nil
		})
	}
	_ = g.Wait()

	matches := make([]model.TemplateMatch, 0, len(ids))
	for _, m := range slots {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	log.Infof("[TemplateRetriever] 命中 %d 个模板，成功解析 %d 个", len(ids), len(matches))
	return matches
}

// resolve 通过目录查找对象 URI 并读取模板正文。
func (r *templateRetriever) resolve(ctx context.Context, id string) (*model.TemplateMatch, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tpl, err := r.catalog.GetByID(fetchCtx, id)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	bucket, key, err := storage.ParseURI(tpl.FileURI, r.defaultBucket)
	if err != nil {
		return nil, err
	}
	data, err := r.store.Get(fetchCtx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("fetch object %s/%s: %w", bucket, key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyTemplate
	}
	if !utf8.Valid(data) {
		return nil, errInvalidEncoding
	}
	return &model.TemplateMatch{ID: id, URI: tpl.FileURI, Content: string(data)}, nil
}
