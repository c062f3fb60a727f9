package model

import "time"

// MessageStatusRecord is one row of the append-only status audit trail.
// Written on every status transition, never mutated.
type MessageStatusRecord struct {
	ID            int64         `json:"id"`
	MetaMessageID string        `json:"meta_message_id"`
	Status        MessageStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}
