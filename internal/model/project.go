// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"gorm.io/gorm"
)

// 项目的索引状态。
const (
	IndexStatusPending  = "PENDING"
	IndexStatusIndexing = "INDEXING"
	IndexStatusReady    = "READY"
	IndexStatusFailed   = "FAILED"
)

// Project 对应于 projects 表。
// 它把一个代码仓库关联到用户，归档时软删除。
type Project struct {
	ID        string `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string `gorm:"type:varchar(255);not null" json:"name"`
	GithubURL string `gorm:"type:varchar(512);not null" json:"githubUrl"`
	OwnerID   string `gorm:"type:varchar(64);not null;index" json:"ownerId"`
	// SealedToken 是经 secretbox 加密后的仓库访问令牌，从不以明文落库。
	SealedToken  []byte         `gorm:"type:bytea" json:"-"`
	IndexStatus  string         `gorm:"type:varchar(16);not null;default:PENDING" json:"indexStatus"`
	IndexedFiles int            `gorm:"not null;default:0" json:"indexedFiles"`
	FailedFiles  int            `gorm:"not null;default:0" json:"failedFiles"`
	ChargedAt    *time.Time     `json:"chargedAt,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Project) TableName() string {
	return "projects"
}
