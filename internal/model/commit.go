package model

import "time"

// CommitRecord 对应于 commits 表。(project_id, commit_hash) 唯一，只追加、不更新。
type CommitRecord struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID          string    `gorm:"type:uuid;not null;uniqueIndex:idx_commits_project_hash" json:"projectId"`
	CommitHash         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_commits_project_hash" json:"commitHash"`
	CommitMessage      string    `gorm:"type:text" json:"commitMessage"`
	CommitAuthorName   string    `gorm:"type:varchar(255)" json:"commitAuthorName"`
	CommitAuthorAvatar string    `gorm:"type:varchar(512)" json:"commitAuthorAvatar"`
	CommitDate         time.Time `gorm:"index" json:"commitDate"`
	Summary            string    `gorm:"type:text" json:"summary"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (CommitRecord) TableName() string {
	return "commits"
}
