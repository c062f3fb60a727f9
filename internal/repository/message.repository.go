package repository

import (
	"context"
	"errors"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Create inserts msg. When the row carries a meta_message_id that already
// exists, the insert degrades into an update of the same row instead of
// failing on the unique index. This is the last line of defense against
// concurrent webhook deliveries for the same provider id.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	q := r.Write(ctx).WithContext(ctx)
	if entity.MetaMessageID != nil {
		q = q.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "meta_message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "content", "caption", "media_url", "media_path",
				"media_metadata", "error_message", "sent_at", "updated_at",
			}),
		})
	}
	if err := q.Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// Update overwrites the stored row with every field of msg.
func (r *MessageRepository) Update(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	res := r.Write(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("id = ?", entity.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return r.GetByID(ctx, msg.ID)
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// GetByMetaMessageID returns the message holding the given provider id, or
// ErrNotFound.
func (r *MessageRepository) GetByMetaMessageID(ctx context.Context, metaID string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "meta_message_id = ?", metaID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{})

	if f.ContactID != 0 {
		q = q.Where("contact_id = ?", f.ContactID)
	}
	if len(f.Types) > 0 {
		q = q.Where("message_type IN ?", f.Types)
	}
	if f.Before != nil {
		q = q.Where("sent_at < ?", *f.Before)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order("sent_at ASC, id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// ListLatestPerContact returns the newest messages of every conversation the
// user owns, at most perContact rows each, chronological within a
// conversation.
func (r *MessageRepository) ListLatestPerContact(ctx context.Context, userID int64, types []model.MessageType, perContact int) ([]*model.Message, error) {
	if perContact <= 0 || perContact > 200 {
		perContact = 25
	}

	ranked := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Select("id, ROW_NUMBER() OVER (PARTITION BY contact_id ORDER BY sent_at DESC, id DESC) AS rn").
		Where("user_id = ?", userID)
	if len(types) > 0 {
		ranked = ranked.Where("message_type IN ?", types)
	}

	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}).
		Joins("JOIN (?) AS ranked ON ranked.id = messages.id AND ranked.rn <= ?", ranked, perContact).
		Order("messages.contact_id ASC, messages.sent_at ASC, messages.id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// MarkConversationRead flips every unread inbound message of the contact to
// read and returns the affected rows so the caller can fan the transition out.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, contactID int64) ([]*model.Message, error) {
	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("contact_id = ? AND direction = ? AND status <> ?",
			contactID, string(model.DirectionIn), string(model.MessageStatusRead)).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
		e.Status = string(model.MessageStatusRead)
	}

	err = r.Write(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("id IN ?", ids).
		Update("status", string(model.MessageStatusRead)).Error
	if err != nil {
		return nil, err
	}

	return toMessageModels(entities), nil
}

// ListUpdatedAfter returns messages whose updated_at is strictly after the
// watermark, oldest first. Used by the change monitor.
func (r *MessageRepository) ListUpdatedAfter(ctx context.Context, watermark time.Time, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 500
	}
	var entities []*MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("updated_at > ?", watermark).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}
