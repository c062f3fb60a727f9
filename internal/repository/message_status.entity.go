package repository

import (
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
)

type MessageStatusEntity struct {
	ID            int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	MetaMessageID string    `db:"meta_message_id" gorm:"column:meta_message_id;not null;index"`
	Status        string    `db:"status"          gorm:"column:status;not null"`
	CreatedAt     time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (MessageStatusEntity) TableName() string {
	return "message_statuses"
}

func toMessageStatusModel(e *MessageStatusEntity) *model.MessageStatusRecord {
	if e == nil {
		return nil
	}
	return &model.MessageStatusRecord{
		ID:            e.ID,
		MetaMessageID: e.MetaMessageID,
		Status:        model.MessageStatus(e.Status),
		CreatedAt:     e.CreatedAt,
	}
}
