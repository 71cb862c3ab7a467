package models

import "time"

// Draft represents a generated reply to a stored message
type Draft struct {
	ID                int64      `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"-"`
	MessageID         int64      `db:"message_id" json:"message_id"` // FK to Message
	Subject           string     `db:"subject" json:"subject"`
	PlainBody         string     `db:"plain_body" json:"plain_body"`
	HTMLBody          string     `db:"html_body" json:"html_body"`
	IsApproved        bool       `db:"is_approved" json:"is_approved"`
	IsSent            bool       `db:"is_sent" json:"is_sent"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"` // Set once sent
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
