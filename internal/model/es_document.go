package model

// KnowledgeDocument 定义了镜像到 Elasticsearch 的文件知识文档结构。
type KnowledgeDocument struct {
	DocID        string    `json:"doc_id"` // projectId 与文件路径的组合
	ProjectID    string    `json:"project_id"`
	FileName     string    `json:"file_name"`
	Summary      string    `json:"summary"`
	Vector       []float32 `json:"vector"` // 摘要的向量表示
	ModelVersion string    `json:"model_version"`
}
