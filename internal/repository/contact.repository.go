package repository

import (
	"context"
	"errors"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/pg"
	"gorm.io/gorm"
)

// ErrContactNotFound is returned when a contact does not exist.
var ErrContactNotFound = errors.New("contact not found")

type ContactRepository struct {
	*pg.DB
}

func NewContactRepository(db *pg.DB) *ContactRepository {
	return &ContactRepository{
		db,
	}
}

func (r *ContactRepository) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	var entity ContactEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return toContactModel(&entity), nil
}

// GetByUserAndPhone looks a contact up by its owning tenant and counterparty
// phone number.
func (r *ContactRepository) GetByUserAndPhone(ctx context.Context, userID int64, phone string) (*model.Contact, error) {
	var entity ContactEntity
	err := r.Read(ctx).WithContext(ctx).
		First(&entity, "user_id = ? AND phone_number = ?", userID, phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return toContactModel(&entity), nil
}

// ListSummaries returns the tenant's contacts with unread counts and the
// timestamp of the latest message, busiest conversation first.
func (r *ContactRepository) ListSummaries(ctx context.Context, userID int64) ([]*model.ContactSummary, error) {
	var entities []*ContactSummaryEntity
	err := r.Read(ctx).WithContext(ctx).
		Table("contacts AS c").
		Select(`
            c.id            AS id,
            c.user_id       AS user_id,
            c.phone_number  AS phone_number,
            c.name          AS name,
            c.created_at    AS created_at,
            c.updated_at    AS updated_at,
            COALESCE(m.unread_count, 0) AS unread_count,
            m.last_message_at           AS last_message_at
        `).
		Joins(`LEFT JOIN (
            SELECT contact_id,
                   SUM(CASE WHEN direction = 'in' AND status <> 'read' THEN 1 ELSE 0 END) AS unread_count,
                   MAX(sent_at) AS last_message_at
            FROM messages
            GROUP BY contact_id
        ) AS m ON m.contact_id = c.id`).
		Where("c.user_id = ?", userID).
		Order("m.last_message_at IS NULL, m.last_message_at DESC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.ContactSummary, len(entities))
	for i, e := range entities {
		summaries[i] = toContactSummaryModel(e)
	}
	return summaries, nil
}
