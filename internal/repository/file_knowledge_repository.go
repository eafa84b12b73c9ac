package repository

import (
	"context"

	"codelens-go/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileKnowledgeRepository 定义了对 file_knowledge 表的数据操作接口。
type FileKnowledgeRepository interface {
	// Upsert 按 (project_id, file_name) 写入一行，已存在时覆盖源码、摘要和向量。
	Upsert(ctx context.Context, fk *model.FileKnowledge) error
	CountByProject(ctx context.Context, projectID string) (int64, error)
	FindByProject(ctx context.Context, projectID string) ([]model.FileKnowledge, error)
}

type fileKnowledgeRepository struct {
	db *gorm.DB
}

// NewFileKnowledgeRepository 创建一个新的 FileKnowledgeRepository 实例。
func NewFileKnowledgeRepository(db *gorm.DB) FileKnowledgeRepository {
	return &fileKnowledgeRepository{db: db}
}

func (r *fileKnowledgeRepository) Upsert(ctx context.Context, fk *model.FileKnowledge) error {
	if fk.ID == "" {
		fk.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_code", "summary", "embedding", "updated_at"}),
	}).Create(fk).Error
}

// CountByProject 统计项目已存储的文件数。
func (r *fileKnowledgeRepository) CountByProject(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.FileKnowledge{}).Where("project_id = ?", projectID).Count(&n).Error
	return n, err
}

// FindByProject 按文件名顺序返回项目的所有文件知识。
func (r *fileKnowledgeRepository) FindByProject(ctx context.Context, projectID string) ([]model.FileKnowledge, error) {
	var rows []model.FileKnowledge
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("file_name").Find(&rows).Error
	return rows, err
}
