package repository

import (
	"context"
	"fmt"

	"codelens-go/internal/model"
	"codelens-go/pkg/apperr"
	"codelens-go/pkg/log"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommitRepository 定义了对 commits 表的数据操作接口。
type CommitRepository interface {
	ListHashes(ctx context.Context, projectID string) (map[string]struct{}, error)
	// InsertBatch 一次性插入新提交，跳过 (project_id, commit_hash) 冲突的行，返回实际插入的记录。
	InsertBatch(ctx context.Context, records []*model.CommitRecord) ([]*model.CommitRecord, error)
	ListByProject(ctx context.Context, projectID string) ([]model.CommitRecord, error)
}

type commitRepository struct {
	db *gorm.DB
}

// NewCommitRepository 创建一个新的 CommitRepository 实例。
func NewCommitRepository(db *gorm.DB) CommitRepository {
	return &commitRepository{db: db}
}

// ListHashes 返回项目已存储的全部提交哈希。
func (r *commitRepository) ListHashes(ctx context.Context, projectID string) (map[string]struct{}, error) {
	var hashes []string
	if err := r.db.WithContext(ctx).Model(&model.CommitRecord{}).
		Where("project_id = ?", projectID).Pluck("commit_hash", &hashes).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}

func (r *commitRepository) InsertBatch(ctx context.Context, records []*model.CommitRecord) ([]*model.CommitRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		ids = append(ids, rec.ID)
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "commit_hash"}},
		DoNothing: true,
	}).Create(&records)
	if res.Error != nil {
		return nil, res.Error
	}
	if int(res.RowsAffected) == len(records) {
		return records, nil
	}

	// 有并发刷新先写入了部分提交：ID 在本进程生成，据此找出真正插入的行。
	var stored []string
	if err := r.db.WithContext(ctx).Model(&model.CommitRecord{}).
		Where("id IN ?", ids).Pluck("id", &stored).Error; err != nil {
		return nil, err
	}
	storedSet := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		storedSet[id] = struct{}{}
	}
	inserted := make([]*model.CommitRecord, 0, len(stored))
	var skipped []string
	for _, rec := range records {
		if _, ok := storedSet[rec.ID]; ok {
			inserted = append(inserted, rec)
		} else {
			skipped = append(skipped, rec.CommitHash)
		}
	}
	log.Warnf("[CommitRepository] %v", fmt.Errorf("%w: %d commit(s) already stored by a concurrent refresh: %v",
		apperr.ErrStorageConflict, len(skipped), skipped))
	return inserted, nil
}

// ListByProject 按作者时间倒序返回项目的提交记录。
func (r *commitRepository) ListByProject(ctx context.Context, projectID string) ([]model.CommitRecord, error) {
	var rows []model.CommitRecord
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).
		Order("commit_date DESC").Order("created_at DESC").Find(&rows).Error
	return rows, err
}
