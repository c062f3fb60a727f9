package repository

import (
	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/lib/pq"
)

type UserEntity struct {
	ID            int64          `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	Name          string         `db:"name"            gorm:"column:name;not null"`
	PhoneNumberID string         `db:"phone_number_id" gorm:"column:phone_number_id;not null;uniqueIndex"`
	AccessToken   string         `db:"access_token"    gorm:"column:access_token;not null"`
	VerifyToken   string         `db:"verify_token"    gorm:"column:verify_token;not null"`
	Permissions   pq.StringArray `db:"permissions"     gorm:"column:permissions;type:text[]"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:            e.ID,
		Name:          e.Name,
		PhoneNumberID: e.PhoneNumberID,
		AccessToken:   e.AccessToken,
		VerifyToken:   e.VerifyToken,
		Permissions:   []string(e.Permissions),
	}
}
