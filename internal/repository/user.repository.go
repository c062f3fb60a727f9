package repository

import (
	"context"
	"errors"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

// ErrUserNotFound is returned when a tenant does not exist.
var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return toUserModel(&entity), nil
}

// GetByPhoneNumberID maps the provider's phone_number_id onto a tenant.
func (r *UserRepository) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "phone_number_id = ?", phoneNumberID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return toUserModel(&entity), nil
}

// VerifyTokenExists reports whether any tenant registered the given webhook
// verify token.
func (r *UserRepository) VerifyTokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&UserEntity{}).
		Where("verify_token = ?", token).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
