package repository

import (
	"context"
	"testing"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContact(t *testing.T, db *testDB, userID int64, phone, name string) int64 {
	t.Helper()
	entity := &ContactEntity{UserID: userID, PhoneNumber: phone, Name: name}
	require.NoError(t, db.rawDB.Create(entity).Error)
	return entity.ID
}

func TestContactRepository_GetByUserAndPhone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db.DB)
	ctx := context.Background()

	id := seedContact(t, db, 1, "5215550001", "Alice")

	t.Run("found", func(t *testing.T) {
		c, err := repo.GetByUserAndPhone(ctx, 1, "5215550001")
		require.NoError(t, err)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, "Alice", c.Name)
	})

	t.Run("wrong tenant misses", func(t *testing.T) {
		_, err := repo.GetByUserAndPhone(ctx, 2, "5215550001")
		assert.ErrorIs(t, err, ErrContactNotFound)
	})

	t.Run("unknown phone misses", func(t *testing.T) {
		_, err := repo.GetByUserAndPhone(ctx, 1, "5215559999")
		assert.ErrorIs(t, err, ErrContactNotFound)
	})
}

func TestContactRepository_ListSummaries(t *testing.T) {
	db := setupTestDB(t)
	repo := NewContactRepository(db.DB)
	msgRepo := NewMessageRepository(db.DB)
	ctx := context.Background()

	quiet := seedContact(t, db, 1, "5215550010", "Quiet")
	busy := seedContact(t, db, 1, "5215550011", "Busy")
	seedContact(t, db, 2, "5215550012", "OtherTenant")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := msgRepo.Create(ctx, &model.Message{
			UserID:        1,
			ContactID:     busy,
			MetaMessageID: "wamid.sum-" + string(rune('a'+i)),
			Direction:     model.DirectionIn,
			Type:          model.TypeText,
			Content:       "msg",
			Status:        model.MessageStatusReceived,
			SentAt:        now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	_, err := msgRepo.Create(ctx, &model.Message{
		UserID:        1,
		ContactID:     busy,
		MetaMessageID: "wamid.sum-read",
		Direction:     model.DirectionIn,
		Type:          model.TypeText,
		Content:       "msg",
		Status:        model.MessageStatusRead,
		SentAt:        now.Add(-time.Hour),
	})
	require.NoError(t, err)

	summaries, err := repo.ListSummaries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, busy, summaries[0].ID)
	assert.Equal(t, int64(3), summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessageAt)

	assert.Equal(t, quiet, summaries[1].ID)
	assert.Equal(t, int64(0), summaries[1].UnreadCount)
	assert.Nil(t, summaries[1].LastMessageAt)
}
