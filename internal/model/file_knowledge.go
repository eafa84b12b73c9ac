package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// FileKnowledge 对应于 file_knowledge 表：每个文件一行，包含源码快照、摘要和摘要的向量。
// (project_id, file_name) 唯一，重复摄取时覆盖更新。
type FileKnowledge struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID  string          `gorm:"type:uuid;not null;uniqueIndex:idx_file_knowledge_project_file" json:"projectId"`
	FileName   string          `gorm:"type:text;not null;uniqueIndex:idx_file_knowledge_project_file" json:"fileName"`
	SourceCode string          `gorm:"type:text" json:"sourceCode"`
	Summary    string          `gorm:"type:text" json:"summary"`
	Embedding  pgvector.Vector `gorm:"type:vector" json:"-"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (FileKnowledge) TableName() string {
	return "file_knowledge"
}
