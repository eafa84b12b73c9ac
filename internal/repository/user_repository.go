package repository

import (
	"context"
	"errors"
	"time"

	"codelens-go/internal/model"
	"codelens-go/pkg/apperr"

	"gorm.io/gorm"
)

// UserRepository 接口定义了用户及其积分余额的持久化操作。
type UserRepository interface {
	// Ensure 返回给定 ID 的用户，不存在时以默认积分创建。
	Ensure(ctx context.Context, id, email string) (*model.User, error)
	GetBalance(ctx context.Context, id string) (int, error)
	// Decrement 扣减 n 个积分，余额不足时返回 apperr.ErrInsufficientCredits 且不做任何修改。
	Decrement(ctx context.Context, id string, n int) error
	// ChargeProject 为项目的摄取结果扣费。同一项目只会扣费一次，重复调用返回 charged=false。
	ChargeProject(ctx context.Context, userID, projectID string, n int) (charged bool, err error)
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Ensure(ctx context.Context, id, email string) (*model.User, error) {
	user := model.User{ID: id, Email: email}
	err := r.db.WithContext(ctx).Where(model.User{ID: id}).Attrs(model.User{Email: email}).FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetBalance(ctx context.Context, id string) (int, error) {
	var user model.User
	err := r.db.WithContext(ctx).Select("credits").Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

func (r *userRepository) Decrement(ctx context.Context, id string, n int) error {
	return decrement(r.db.WithContext(ctx), id, n)
}

func (r *userRepository) ChargeProject(ctx context.Context, userID, projectID string, n int) (bool, error) {
	charged := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Project{}).
			Where("id = ? AND charged_at IS NULL", projectID).
			Update("charged_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := decrement(tx, userID, n); err != nil {
			return err
		}
		charged = true
		return nil
	})
	return charged, err
}

func decrement(db *gorm.DB, id string, n int) error {
	if n <= 0 {
		return nil
	}
	res := db.Model(&model.User{}).
		Where("id = ? AND credits >= ?", id, n).
		Update("credits", gorm.Expr("credits - ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrInsufficientCredits
	}
	return nil
}
