// Package tasks 定义了发送到 Kafka 的任务结构。
package tasks

// TemplateIndexTask 是一次模板索引任务：读取模板对象，生成向量并写入检索索引。
type TemplateIndexTask struct {
	TemplateID  string `json:"template_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ObjectURI   string `json:"object_uri"`
	FileName    string `json:"file_name"`
	UserID      uint   `json:"user_id"`
}
