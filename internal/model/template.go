package model

import "time"

// Template 对应于数据库中的 templates 表，即模板目录（id -> 文件 URI）。
type Template struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	FileURI     string    `gorm:"type:varchar(512);not null;column:file_uri" json:"fileUri"`
	CreatedBy   uint      `gorm:"not null;default:0" json:"createdBy"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Template) TableName() string {
	return "templates"
}
