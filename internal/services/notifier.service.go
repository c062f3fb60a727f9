package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
	"github.com/chatrelay/whatsapp-gateway/pkg/logger"
	"github.com/chatrelay/whatsapp-gateway/pkg/prom"
	"github.com/chatrelay/whatsapp-gateway/pkg/redis"
)

const (
	EventNewMessage   = "new-message"
	EventStatusUpdate = "status-update"
)

// NewMessageEvent is pushed to a conversation channel when a message first
// appears.
type NewMessageEvent struct {
	Event     string `json:"event"`
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Type      string `json:"type"`
	MediaURL  string `json:"media_url,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

type StatusUpdateItem struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// StatusUpdateEvent carries one or many status transitions for a
// conversation. ContactID is set only on the bulk form.
type StatusUpdateEvent struct {
	Event     string             `json:"event"`
	ContactID int64              `json:"contact_id,omitempty"`
	Messages  []StatusUpdateItem `json:"messages"`
}

// Notifier shapes and publishes real-time events onto per-conversation
// channels.
type Notifier struct {
	redis           redis.RedisAdapter
	mediaPublicBase string
}

func NewNotifier(adapter redis.RedisAdapter, mediaPublicBase string) *Notifier {
	return &Notifier{
		redis:           adapter,
		mediaPublicBase: mediaPublicBase,
	}
}

// ChannelFor names the pub/sub channel of a conversation.
func ChannelFor(contactID int64) string {
	return fmt.Sprintf("messages-channel-%d", contactID)
}

// PublishNewMessage formats msg and pushes it to the conversation channel.
// Media messages get a resolvable media_url and a caption; text messages get
// the plain formatter.
func (n *Notifier) PublishNewMessage(msg *model.Message) error {
	event := NewMessageEvent{
		Event:     EventNewMessage,
		ID:        msg.ID,
		Text:      msg.Content,
		Sender:    senderOf(msg.Direction),
		Timestamp: msg.SentAt.UTC().Format(time.RFC3339),
		Status:    string(msg.Status),
		Type:      string(msg.Type),
	}

	if msg.Type.IsMediaType() {
		if msg.MediaPath != "" {
			event.MediaURL = n.mediaPublicBase + "/" + msg.MediaPath
		}
		event.Caption = msg.Caption
		if event.Caption == "" {
			event.Caption = msg.Type.MediaCaption()
		}
		if event.Text == "" || event.Text == model.PlaceholderContent {
			event.Text = event.Caption
		}
	}

	return n.publish(ChannelFor(msg.ContactID), EventNewMessage, event)
}

// PublishStatusUpdate pushes a single status transition.
func (n *Notifier) PublishStatusUpdate(contactID int64, msgID int64, status model.MessageStatus) error {
	event := StatusUpdateEvent{
		Event:    EventStatusUpdate,
		Messages: []StatusUpdateItem{{ID: msgID, Status: string(status)}},
	}
	return n.publish(ChannelFor(contactID), EventStatusUpdate, event)
}

// PublishStatusUpdateBulk pushes many transitions in one event, tagged with
// the conversation's contact id.
func (n *Notifier) PublishStatusUpdateBulk(contactID int64, items []StatusUpdateItem) error {
	if len(items) == 0 {
		return nil
	}
	event := StatusUpdateEvent{
		Event:     EventStatusUpdate,
		ContactID: contactID,
		Messages:  items,
	}
	return n.publish(ChannelFor(contactID), EventStatusUpdate, event)
}

func (n *Notifier) publish(channel, eventName string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventName, err)
	}
	if err := n.redis.Publish(channel, payload); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventName, err)
	}
	prom.IncCounterVec(prom.SystemNotify, prom.MetricNotifyPublishedTotal, eventName)
	logger.Debug("event published", "channel", channel, "event", eventName)
	return nil
}

func senderOf(d model.MessageDirection) string {
	if d == model.DirectionOut {
		return "user"
	}
	return "other"
}
