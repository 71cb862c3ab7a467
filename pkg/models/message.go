package models

import "time"

// Message represents a normalized inbound email stored for a user
type Message struct {
	ID                int64     `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"-"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"` // Gmail message id
	ThreadID          string    `db:"thread_id" json:"thread_id"`
	SenderAddress     string    `db:"sender_address" json:"sender_address"`
	SenderName        string    `db:"sender_name" json:"sender_name"`
	Recipient         string    `db:"recipient" json:"recipient"`
	Subject           string    `db:"subject" json:"subject"`
	PlainBody         string    `db:"plain_body" json:"plain_body"`
	HTMLBody          string    `db:"html_body" json:"html_body"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	IsRead            bool      `db:"is_read" json:"is_read"`
	RequiresReply     bool      `db:"requires_reply" json:"requires_reply"`
	Malformed         bool      `db:"malformed" json:"malformed"` // Body could not be extracted
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// HistoricalPair is a past message and the reply drafted for it
type HistoricalPair struct {
	Subject string `db:"subject"`
	Body    string `db:"body"`
	Reply   string `db:"reply"`
}
