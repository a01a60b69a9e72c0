// Package pipeline 定义了模板入库的处理流程：读取对象、抽取文本、向量化并写入检索索引。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"protoforge/internal/model"
	"protoforge/pkg/embedding"
	"protoforge/pkg/log"
	"protoforge/pkg/storage"
	"protoforge/pkg/tasks"
	"strings"
	"unicode/utf8"
)

// TextExtractor 从二进制文件中抽取纯文本，由 Tika 客户端实现。
type TextExtractor interface {
	Enabled() bool
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// DocumentIndexer 将模板文档写入检索索引。
type DocumentIndexer interface {
	Index(ctx context.Context, doc model.TemplateDocument) error
}

// Processor 封装了模板索引任务的所有依赖和逻辑。
type Processor struct {
	store          storage.ObjectStore
	defaultBucket  string
	extractor      TextExtractor
	embedder       embedding.Client
	indexer        DocumentIndexer
	embeddingModel string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	store storage.ObjectStore,
	defaultBucket string,
	extractor TextExtractor,
	embedder embedding.Client,
	indexer DocumentIndexer,
	embeddingModel string,
) *Processor {
	return &Processor{
		store:          store,
		defaultBucket:  defaultBucket,
		extractor:      extractor,
		embedder:       embedder,
		indexer:        indexer,
		embeddingModel: embeddingModel,
	}
}

// Process 处理一个模板索引任务。
func (p *Processor) Process(ctx context.Context, task tasks.TemplateIndexTask) error {
	log.Infof("[Processor] 开始处理模板, id: %s, name: %s, uri: %s", task.TemplateID, task.Name, task.ObjectURI)

	// 1. 读取模板对象
	bucket, key, err := storage.ParseURI(task.ObjectURI, p.defaultBucket)
	if err != nil {
		return err
	}
	data, err := p.store.Get(ctx, bucket, key)
	if err != nil {
		log.Errorf("[Processor] 读取模板对象失败, %s/%s: %v", bucket, key, err)
		return fmt.Errorf("读取模板对象失败: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("模板内容为空")
	}

	// 2. 抽取文本：UTF-8 文本直接使用，其余交给 Tika
	body, err := p.extractText(ctx, data, task.FileName)
	if err != nil {
		return err
	}
	log.Infof("[Processor] 文本就绪, 长度: %d 字符", utf8.RuneCountInString(body))

	// 3. 向量化（客户端按配置截断过长输入）
	vector, err := p.embedder.CreateEmbedding(ctx, embeddingText(task.Name, task.Description, body), embedding.LabelDocument)
	if err != nil {
		log.Errorf("[Processor] 模板向量化失败, id: %s, error: %v", task.TemplateID, err)
		return fmt.Errorf("模板向量化失败: %w", err)
	}

	// 4. 写入检索索引
	doc := model.TemplateDocument{
		TemplateID:   task.TemplateID,
		Name:         task.Name,
		Description:  task.Description,
		TextContent:  body,
		Vector:       vector,
		ModelVersion: p.embeddingModel,
	}
	if err := p.indexer.Index(ctx, doc); err != nil {
		log.Errorf("[Processor] 索引模板失败, id: %s, error: %v", task.TemplateID, err)
		return fmt.Errorf("索引模板失败: %w", err)
	}
	log.Infof("[Processor] 模板索引成功, id: %s", task.TemplateID)
	return nil
}

func (p *Processor) extractText(ctx context.Context, data []byte, fileName string) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	if p.extractor == nil || !p.extractor.Enabled() {
		return "", fmt.Errorf("模板 %s 不是 UTF-8 文本且未配置 Tika", fileName)
	}
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), fileName)
	if err != nil {
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("提取的文本内容为空")
	}
	return text, nil
}

// embeddingText 拼接名称、描述与正文作为向量化输入。
func embeddingText(name, description, body string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{name, description, body} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
