package model

import (
	"errors"
	"time"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	MessageStatusReceived  MessageStatus = "received"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// statusRank orders the outbound delivery progression. A status update that
// would move a message to a lower rank is recorded in the audit trail but
// never overwrites the message row.
var statusRank = map[MessageStatus]int{
	MessageStatusReceived:  0,
	MessageStatusSending:   1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusRead:      4,
	MessageStatusFailed:    5,
}

// Rank returns the delivery-progression rank of s, or -1 for unknown values.
func (s MessageStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// MessageDirection tells whether a message was sent by the business or by
// the contact.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// MessageType is the WhatsApp payload kind.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeTemplate MessageType = "template"
	TypeImage    MessageType = "image"
	TypeAudio    MessageType = "audio"
	TypeVoice    MessageType = "voice"
	TypeVideo    MessageType = "video"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeUnknown  MessageType = "unknown"
)

// PlaceholderContent is stored when a payload carries no usable text.
const PlaceholderContent = "[no text]"

// mediaKind describes where a media type is stored on disk, the fallback
// file extension when the provider gives none, and the default caption shown
// to clients.
type mediaKind struct {
	Folder  string
	Ext     string
	Caption string
}

var mediaKinds = map[MessageType]mediaKind{
	TypeAudio:    {Folder: "audios", Ext: "mp3", Caption: "Audio"},
	TypeVoice:    {Folder: "audios", Ext: "mp3", Caption: "Voice note"},
	TypeImage:    {Folder: "images", Ext: "jpg", Caption: "Image"},
	TypeVideo:    {Folder: "videos", Ext: "mp4", Caption: "Video"},
	TypeDocument: {Folder: "documents", Ext: "pdf", Caption: "Document"},
}

var defaultMediaKind = mediaKind{Folder: "others", Ext: "bin", Caption: "File"}

// IsMediaType reports whether t carries a downloadable media object.
func (t MessageType) IsMediaType() bool {
	_, ok := mediaKinds[t]
	return ok
}

// MediaFolder is the storage subdirectory for media of type t.
func (t MessageType) MediaFolder() string {
	if k, ok := mediaKinds[t]; ok {
		return k.Folder
	}
	return defaultMediaKind.Folder
}

// MediaExt is the fallback file extension for media of type t.
func (t MessageType) MediaExt() string {
	if k, ok := mediaKinds[t]; ok {
		return k.Ext
	}
	return defaultMediaKind.Ext
}

// MediaCaption is the default caption for media of type t.
func (t MessageType) MediaCaption() string {
	if k, ok := mediaKinds[t]; ok {
		return k.Caption
	}
	return defaultMediaKind.Caption
}

type Message struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"user_id"`
	ContactID     int64             `json:"contact_id"`
	MetaMessageID string            `json:"meta_message_id,omitempty"`
	Direction     MessageDirection  `json:"direction"`
	Type          MessageType       `json:"message_type"`
	Content       string            `json:"content"`
	Caption       string            `json:"caption,omitempty"`
	MediaURL      string            `json:"media_url,omitempty"`
	MediaPath     string            `json:"media_path,omitempty"`
	MediaMetadata map[string]string `json:"media_metadata,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Status        MessageStatus     `json:"status"`
	SentAt        time.Time         `json:"sent_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// MessageSendRequest is the input for sending a text message.
type MessageSendRequest struct {
	ContactID int64  `json:"contact_id"`
	Content   string `json:"content"`
}

func (r MessageSendRequest) Validate() error {
	if r.ContactID == 0 {
		return errors.New("contact_id is required")
	}
	if r.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// MediaSendRequest is the input for sending a media message by public link.
type MediaSendRequest struct {
	ContactID int64       `json:"contact_id"`
	Type      MessageType `json:"type"`
	Link      string      `json:"link"`
	Caption   string      `json:"caption"`
}

func (r MediaSendRequest) Validate() error {
	if r.ContactID == 0 {
		return errors.New("contact_id is required")
	}
	if r.Link == "" {
		return errors.New("link is required")
	}
	if !r.Type.IsMediaType() {
		return errors.New("type must be a media type")
	}
	return nil
}

// MessageFilter controls history queries.
type MessageFilter struct {
	ContactID int64
	Types     []MessageType // IN (...), empty means all
	Before    *time.Time
	Limit     int // default 50
	Offset    int
}
