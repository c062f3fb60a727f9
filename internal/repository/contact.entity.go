package repository

import (
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
)

type ContactEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	UserID      int64     `db:"user_id"      gorm:"column:user_id;not null;index:idx_contacts_user_phone,unique"`
	PhoneNumber string    `db:"phone_number" gorm:"column:phone_number;not null;index:idx_contacts_user_phone,unique"`
	Name        string    `db:"name"         gorm:"column:name;not null"`
	CreatedAt   time.Time `db:"created_at"   gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `db:"updated_at"   gorm:"column:updated_at;autoUpdateTime"`
}

func (ContactEntity) TableName() string {
	return "contacts"
}

// ContactSummaryEntity is the scan target of the conversation-list query.
type ContactSummaryEntity struct {
	ContactEntity
	UnreadCount   int64      `gorm:"column:unread_count"`
	LastMessageAt *time.Time `gorm:"column:last_message_at"`
}

func toContactModel(e *ContactEntity) *model.Contact {
	if e == nil {
		return nil
	}
	return &model.Contact{
		ID:          e.ID,
		UserID:      e.UserID,
		PhoneNumber: e.PhoneNumber,
		Name:        e.Name,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toContactSummaryModel(e *ContactSummaryEntity) *model.ContactSummary {
	if e == nil {
		return nil
	}
	return &model.ContactSummary{
		Contact:       *toContactModel(&e.ContactEntity),
		UnreadCount:   e.UnreadCount,
		LastMessageAt: e.LastMessageAt,
	}
}
