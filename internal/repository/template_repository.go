package repository

import (
	"context"
	"errors"
	"protoforge/internal/model"

	"gorm.io/gorm"
)

// ErrTemplateNotFound 表示模板目录中不存在该条目。
var ErrTemplateNotFound = errors.New("template not found")

// TemplateRepository 定义了模板目录的持久化操作。
type TemplateRepository interface {
	Save(ctx context.Context, template *model.Template) error
	GetByID(ctx context.Context, id string) (*model.Template, error)
	GetByName(ctx context.Context, name string) (*model.Template, error)
	List(ctx context.Context) ([]model.Template, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type templateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository 创建一个新的 TemplateRepository 实例。
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

// Save 插入或更新一条模板记录。
func (r *templateRepository) Save(ctx context.Context, template *model.Template) error {
	return r.db.WithContext(ctx).Save(template).Error
}

// GetByID 根据模板 ID 查找模板。
func (r *templateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByName 根据模板名称查找模板。
func (r *templateRepository) GetByName(ctx context.Context, name string) (*model.Template, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *templateRepository) first(ctx context.Context, query string, arg interface{}) (*model.Template, error) {
	var template model.Template
	err := r.db.WithContext(ctx).Where(query, arg).First(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// List 按创建时间倒序列出全部模板。
func (r *templateRepository) List(ctx context.Context) ([]model.Template, error) {
	var templates []model.Template
	err := r.db.WithContext(ctx).Order("created_at desc").Find(&templates).Error
	return templates, err
}

// Delete 删除模板记录，记录不存在时返回 false。
func (r *templateRepository) Delete(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Template{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
