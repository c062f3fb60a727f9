package webhook

import (
	"strconv"
	"time"

	"github.com/chatrelay/whatsapp-gateway/internal/model"
)

// Payload is the subset of the provider's webhook body the gateway consumes.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	Metadata Metadata         `json:"metadata"`
	Messages []InboundMessage `json:"messages"`
	Statuses []InboundStatus  `json:"statuses"`
}

type Metadata struct {
	PhoneNumberID      string `json:"phone_number_id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
}

type InboundMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Type      string    `json:"type"`
	Timestamp string    `json:"timestamp"`
	Text      *TextBody `json:"text"`
	Image     *MediaRef `json:"image"`
	Audio     *MediaRef `json:"audio"`
	Video     *MediaRef `json:"video"`
	Document  *MediaRef `json:"document"`
	Voice     *MediaRef `json:"voice"`
	Sticker   *MediaRef `json:"sticker"`
}

type TextBody struct {
	Body string `json:"body"`
}

type MediaRef struct {
	ID       string `json:"id"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
}

type InboundStatus struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	RecipientID  string        `json:"recipient_id"`
	Timestamp    string        `json:"timestamp"`
	Conversation *Conversation `json:"conversation"`
}

type Conversation struct {
	ID     string  `json:"id"`
	Origin *Origin `json:"origin"`
}

type Origin struct {
	Type string `json:"type"`
}

// Media returns the media reference carried by the message together with its
// internal type, or nil for non-media messages.
func (m *InboundMessage) Media() (model.MessageType, *MediaRef) {
	switch m.Type {
	case "image":
		return model.TypeImage, m.Image
	case "audio":
		return model.TypeAudio, m.Audio
	case "video":
		return model.TypeVideo, m.Video
	case "document":
		return model.TypeDocument, m.Document
	case "voice":
		return model.TypeVoice, m.Voice
	case "sticker":
		return model.TypeSticker, m.Sticker
	}
	return model.TypeUnknown, nil
}

// SentAt converts the provider's unix-seconds timestamp, falling back to the
// current time when it is absent or unparseable.
func (m *InboundMessage) SentAt() time.Time {
	return parseUnix(m.Timestamp)
}

func (s *InboundStatus) SentAt() time.Time {
	return parseUnix(s.Timestamp)
}

// UtilityOrigin reports whether the status event belongs to a utility
// (template) conversation.
func (s *InboundStatus) UtilityOrigin() bool {
	return s.Conversation != nil && s.Conversation.Origin != nil && s.Conversation.Origin.Type == "utility"
}

func parseUnix(ts string) time.Time {
	if ts == "" {
		return time.Now().UTC()
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
