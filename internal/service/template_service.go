package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"protoforge/internal/model"
	"protoforge/internal/repository"
	"protoforge/pkg/kafka"
	"protoforge/pkg/log"
	"protoforge/pkg/storage"
	"protoforge/pkg/tasks"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrTemplateExists 表示同名模板已存在。
	ErrTemplateExists = errors.New("template with this name already exists")
	// ErrInvalidTemplate 表示上传内容不完整。
	ErrInvalidTemplate = errors.New("template name, file name and content are required")
)

// TemplateIndexer 写入与删除检索索引中的模板文档。
type TemplateIndexer interface {
	Delete(ctx context.Context, templateID string) error
}

// TemplateService 管理模板目录：上传、删除、列出与重新索引。
type TemplateService interface {
	Upload(ctx context.Context, name, description, fileName string, content []byte, userID uint) (*model.Template, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.Template, error)
	Reindex(ctx context.Context, id string) error
}

type templateService struct {
	catalog   repository.TemplateRepository
	store     storage.ObjectStore
	bucket    string
	publisher kafka.TaskPublisher
	indexer   TemplateIndexer
}

// NewTemplateService 创建一个新的 TemplateService 实例。
func NewTemplateService(
	catalog repository.TemplateRepository,
	store storage.ObjectStore,
	bucket string,
	publisher kafka.TaskPublisher,
	indexer TemplateIndexer,
) TemplateService {
	return &templateService{
		catalog:   catalog,
		store:     store,
		bucket:    bucket,
		publisher: publisher,
		indexer:   indexer,
	}
}

// Upload 将模板正文写入对象存储、登记目录并投递索引任务。
func (s *templateService) Upload(ctx context.Context, name, description, fileName string, content []byte, userID uint) (*model.Template, error) {
	name = strings.TrimSpace(name)
	fileName = path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if name == "" || fileName == "" || fileName == "." || fileName == "/" || len(content) == 0 {
		return nil, ErrInvalidTemplate
	}

	if _, err := s.catalog.GetByName(ctx, name); err == nil {
		return nil, ErrTemplateExists
	} else if !errors.Is(err, repository.ErrTemplateNotFound) {
		return nil, fmt.Errorf("查询模板目录失败: %w", err)
	}

	id := uuid.NewString()
	key := fmt.Sprintf("templates/%s/%s", id, fileName)
	if _, err := s.store.Put(ctx, s.bucket, key, content); err != nil {
		return nil, fmt.Errorf("上传模板对象失败: %w", err)
	}

	tpl := &model.Template{
		ID:          id,
		Name:        name,
		Description: description,
		FileURI:     storage.FormatURI(s.bucket, key),
		CreatedBy:   userID,
	}
	if err := s.catalog.Save(ctx, tpl); err != nil {
		if _, delErr := s.store.Delete(ctx, s.bucket, key); delErr != nil {
			log.Errorf("[TemplateService] 回滚模板对象失败, key: %s, error: %v", key, delErr)
		}
		return nil, fmt.Errorf("保存模板目录失败: %w", err)
	}
	log.Infof("[TemplateService] 模板已登记, id: %s, name: %s, uri: %s", tpl.ID, tpl.Name, tpl.FileURI)

	if err := s.publish(ctx, tpl, fileName); err != nil {
		return tpl, err
	}
	return tpl, nil
}

func (s *templateService) publish(ctx context.Context, tpl *model.Template, fileName string) error {
	task := tasks.TemplateIndexTask{
		TemplateID:  tpl.ID,
		Name:        tpl.Name,
		Description: tpl.Description,
		ObjectURI:   tpl.FileURI,
		FileName:    fileName,
		UserID:      tpl.CreatedBy,
	}
	if err := s.publisher.PublishTemplateTask(ctx, task); err != nil {
		log.Errorf("[TemplateService] 投递索引任务失败, id: %s, error: %v", tpl.ID, err)
		return fmt.Errorf("投递索引任务失败: %w", err)
	}
	return nil
}

// Delete 尽力删除对象、目录项与索引文档，各步骤失败只记录日志。
func (s *templateService) Delete(ctx context.Context, id string) error {
	tpl, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if bucket, key, err := storage.ParseURI(tpl.FileURI, s.bucket); err != nil {
		log.Warnf("[TemplateService] 模板 URI 无法解析, id: %s, uri: %s", id, tpl.FileURI)
	} else if _, err := s.store.Delete(ctx, bucket, key); err != nil {
		log.Errorf("[TemplateService] 删除模板对象失败, id: %s, error: %v", id, err)
	}
	if err := s.indexer.Delete(ctx, id); err != nil {
		log.Errorf("[TemplateService] 删除索引文档失败, id: %s, error: %v", id, err)
	}
	if _, err := s.catalog.Delete(ctx, id); err != nil {
		return fmt.Errorf("删除模板目录失败: %w", err)
	}
	return nil
}

// List 列出全部模板。
func (s *templateService) List(ctx context.Context) ([]model.Template, error) {
	return s.catalog.List(ctx)
}

// Reindex 为已登记的模板重新投递索引任务。
func (s *templateService) Reindex(ctx context.Context, id string) error {
	tpl, err := s.catalog.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.publish(ctx, tpl, path.Base(tpl.FileURI))
}
