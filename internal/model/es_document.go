package model

// TemplateDocument 定义了存储在 Elasticsearch 中的模板索引文档。
type TemplateDocument struct {
	TemplateID   string    `json:"template_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}
