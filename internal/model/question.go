package model

import "time"

// SavedQuestion 对应于 saved_questions 表，随项目归档一并删除。
type SavedQuestion struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      string    `gorm:"type:uuid;not null;index" json:"projectId"`
	UserID         string    `gorm:"type:varchar(64);not null" json:"userId"`
	Question       string    `gorm:"type:text;not null" json:"question"`
	Answer         string    `gorm:"type:text" json:"answer"`
	FileReferences string    `gorm:"type:text" json:"fileReferences"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SavedQuestion) TableName() string {
	return "saved_questions"
}
