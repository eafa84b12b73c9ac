package model

import "time"

// User 对应于 users 表。ID 来自外部认证服务，这里只维护积分余额。
type User struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255)" json:"email"`
	Credits   int       `gorm:"not null;default:150" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
