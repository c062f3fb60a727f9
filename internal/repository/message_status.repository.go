package repository

import (
	"context"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
)

// MessageStatusRepository writes the append-only audit trail of status
// transitions. Rows are never updated or deleted.
type MessageStatusRepository struct {
	*pg.DB
}

func NewMessageStatusRepository(db *pg.DB) *MessageStatusRepository {
	return &MessageStatusRepository{
		db,
	}
}

func (r *MessageStatusRepository) Create(ctx context.Context, metaID string, status model.MessageStatus) (*model.MessageStatusRecord, error) {
	entity := &MessageStatusEntity{
		MetaMessageID: metaID,
		Status:        string(status),
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toMessageStatusModel(entity), nil
}

// ListByMetaMessageID returns the recorded transitions for one provider id,
// oldest first.
func (r *MessageStatusRepository) ListByMetaMessageID(ctx context.Context, metaID string) ([]*model.MessageStatusRecord, error) {
	var entities []*MessageStatusEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("meta_message_id = ?", metaID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	records := make([]*model.MessageStatusRecord, len(entities))
	for i, e := range entities {
		records[i] = toMessageStatusModel(e)
	}
	return records, nil
}
