// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"codelens-go/internal/model"
	"codelens-go/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProjectRepository 接口定义了项目数据的持久化操作。
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	FindByID(ctx context.Context, id string) (*model.Project, error)
	UpdateStatus(ctx context.Context, id, status string) error
	FinishIndexing(ctx context.Context, id, status string, indexed, failed int) error
	// Archive 在一个事务中删除项目的提问、提交记录和文件知识，然后软删除项目本身。
	Archive(ctx context.Context, id string) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// Create 在数据库中创建一个新的项目记录。ID 为空时自动生成。
func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.IndexStatus == "" {
		project.IndexStatus = model.IndexStatusPending
	}
	return r.db.WithContext(ctx).Create(project).Error
}

// FindByID 查找未归档的项目，不存在时返回 apperr.ErrProjectNotFound。
func (r *projectRepository) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.ErrProjectNotFound
	}
	var project model.Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateStatus 更新项目的索引状态。
func (r *projectRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", id).
		Update("index_status", status).Error
}

// FinishIndexing 记录一次摄取的最终状态和文件计数。
func (r *projectRepository) FinishIndexing(ctx context.Context, id, status string, indexed, failed int) error {
	return r.db.WithContext(ctx).Model(&model.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"index_status":  status,
			"indexed_files": indexed,
			"failed_files":  failed,
		}).Error
}

func (r *projectRepository) Archive(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.SavedQuestion{}).Error; err != nil {
			return fmt.Errorf("delete saved questions: %w", err)
		}
		if err := tx.Where("project_id = ?", id).Delete(&model.CommitRecord{}).Error; err != nil {
			return fmt.Errorf("delete commits: %w", err)
		}
		if err := tx.Where("project_id = ?", id).Delete(&model.FileKnowledge{}).Error; err != nil {
			return fmt.Errorf("delete file knowledge: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Project{})
		if res.Error != nil {
			return fmt.Errorf("archive project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrProjectNotFound
		}
		return nil
	})
}
