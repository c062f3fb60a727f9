package model

import "time"

type Contact struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContactSummary is a contact enriched with conversation state for list views.
type ContactSummary struct {
	Contact
	UnreadCount   int64      `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}
