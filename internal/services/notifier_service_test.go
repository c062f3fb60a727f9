package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "messages-channel-42", ChannelFor(42))
}

func TestNotifier_PublishNewMessage(t *testing.T) {
	sentAt := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

	t.Run("text message", func(t *testing.T) {
		fr := newFakeRedis()
		n := NewNotifier(fr, "/media")

		err := n.PublishNewMessage(&model.Message{
			ID:        1,
			ContactID: 42,
			Direction: model.DirectionIn,
			Type:      model.TypeText,
			Content:   "hola",
			Status:    model.MessageStatusReceived,
			SentAt:    sentAt,
		})
		require.NoError(t, err)

		events := fr.events("messages-channel-42")
		require.Len(t, events, 1)

		var e NewMessageEvent
		require.NoError(t, json.Unmarshal(events[0], &e))
		assert.Equal(t, EventNewMessage, e.Event)
		assert.Equal(t, "hola", e.Text)
		assert.Equal(t, "other", e.Sender)
		assert.Equal(t, "2024-03-05T10:30:00Z", e.Timestamp)
		assert.Equal(t, "received", e.Status)
		assert.Equal(t, "text", e.Type)
		assert.Empty(t, e.MediaURL)
	})

	t.Run("media message gets url and default caption", func(t *testing.T) {
		fr := newFakeRedis()
		n := NewNotifier(fr, "/media")

		err := n.PublishNewMessage(&model.Message{
			ID:        2,
			ContactID: 42,
			Direction: model.DirectionIn,
			Type:      model.TypeVoice,
			Content:   model.PlaceholderContent,
			MediaPath: "audios/2024/03/05/note.mp3",
			Status:    model.MessageStatusReceived,
			SentAt:    sentAt,
		})
		require.NoError(t, err)

		var e NewMessageEvent
		require.NoError(t, json.Unmarshal(fr.events("messages-channel-42")[0], &e))
		assert.Equal(t, "/media/audios/2024/03/05/note.mp3", e.MediaURL)
		assert.Equal(t, "Voice note", e.Caption)
		assert.Equal(t, "Voice note", e.Text)
	})

	t.Run("outbound message is from user", func(t *testing.T) {
		fr := newFakeRedis()
		n := NewNotifier(fr, "/media")

		err := n.PublishNewMessage(&model.Message{
			ID:        3,
			ContactID: 42,
			Direction: model.DirectionOut,
			Type:      model.TypeText,
			Content:   "reply",
			Status:    model.MessageStatusSent,
			SentAt:    sentAt,
		})
		require.NoError(t, err)

		var e NewMessageEvent
		require.NoError(t, json.Unmarshal(fr.events("messages-channel-42")[0], &e))
		assert.Equal(t, "user", e.Sender)
	})
}

func TestNotifier_PublishStatusUpdate(t *testing.T) {
	fr := newFakeRedis()
	n := NewNotifier(fr, "/media")

	require.NoError(t, n.PublishStatusUpdate(42, 7, model.MessageStatusDelivered))

	var e StatusUpdateEvent
	require.NoError(t, json.Unmarshal(fr.events("messages-channel-42")[0], &e))
	assert.Equal(t, EventStatusUpdate, e.Event)
	assert.Zero(t, e.ContactID)
	require.Len(t, e.Messages, 1)
	assert.Equal(t, int64(7), e.Messages[0].ID)
	assert.Equal(t, "delivered", e.Messages[0].Status)
}

func TestNotifier_PublishStatusUpdateBulk(t *testing.T) {
	fr := newFakeRedis()
	n := NewNotifier(fr, "/media")

	t.Run("empty batch publishes nothing", func(t *testing.T) {
		require.NoError(t, n.PublishStatusUpdateBulk(42, nil))
		assert.Empty(t, fr.events("messages-channel-42"))
	})

	t.Run("bulk form carries contact id", func(t *testing.T) {
		items := []StatusUpdateItem{
			{ID: 1, Status: "read"},
			{ID: 2, Status: "read"},
		}
		require.NoError(t, n.PublishStatusUpdateBulk(42, items))

		var e StatusUpdateEvent
		require.NoError(t, json.Unmarshal(fr.events("messages-channel-42")[0], &e))
		assert.Equal(t, int64(42), e.ContactID)
		assert.Len(t, e.Messages, 2)
	})
}
