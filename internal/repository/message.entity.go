package repository

import (
	"encoding/json"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
)

type MessageEntity struct {
	ID            int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID        int64     `db:"user_id"         gorm:"column:user_id;not null;index"`
	ContactID     int64     `db:"contact_id"      gorm:"column:contact_id;not null;index"`
	MetaMessageID *string   `db:"meta_message_id" gorm:"column:meta_message_id;uniqueIndex"`
	Direction     string    `db:"direction"       gorm:"column:direction;not null"`
	Type          string    `db:"message_type"    gorm:"column:message_type;not null"`
	Content       string    `db:"content"         gorm:"column:content;not null"`
	Caption       string    `db:"caption"         gorm:"column:caption"`
	MediaURL      string    `db:"media_url"       gorm:"column:media_url"`
	MediaPath     string    `db:"media_path"      gorm:"column:media_path"`
	MediaMetadata string    `db:"media_metadata"  gorm:"column:media_metadata"`
	ErrorMessage  string    `db:"error_message"   gorm:"column:error_message"`
	Status        string    `db:"status"          gorm:"column:status;not null;index"`
	SentAt        time.Time `db:"sent_at"         gorm:"column:sent_at;not null;index"`
	CreatedAt     time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	var metaID *string
	if m.MetaMessageID != "" {
		id := m.MetaMessageID
		metaID = &id
	}
	var meta string
	if len(m.MediaMetadata) > 0 {
		b, err := json.Marshal(m.MediaMetadata)
		if err == nil {
			meta = string(b)
		}
	}
	return &MessageEntity{
		ID:            m.ID,
		UserID:        m.UserID,
		ContactID:     m.ContactID,
		MetaMessageID: metaID,
		Direction:     string(m.Direction),
		Type:          string(m.Type),
		Content:       m.Content,
		Caption:       m.Caption,
		MediaURL:      m.MediaURL,
		MediaPath:     m.MediaPath,
		MediaMetadata: meta,
		ErrorMessage:  m.ErrorMessage,
		Status:        string(m.Status),
		SentAt:        m.SentAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	var metaID string
	if e.MetaMessageID != nil {
		metaID = *e.MetaMessageID
	}
	var meta map[string]string
	if e.MediaMetadata != "" {
		_ = json.Unmarshal([]byte(e.MediaMetadata), &meta)
	}
	return &model.Message{
		ID:            e.ID,
		UserID:        e.UserID,
		ContactID:     e.ContactID,
		MetaMessageID: metaID,
		Direction:     model.MessageDirection(e.Direction),
		Type:          model.MessageType(e.Type),
		Content:       e.Content,
		Caption:       e.Caption,
		MediaURL:      e.MediaURL,
		MediaPath:     e.MediaPath,
		MediaMetadata: meta,
		ErrorMessage:  e.ErrorMessage,
		Status:        model.MessageStatus(e.Status),
		SentAt:        e.SentAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
