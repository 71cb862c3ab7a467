package models

import "time"

// Credential holds the OAuth tokens of a connected mailbox
type Credential struct {
	UserID       string    `db:"user_id"`
	AccessToken  string    `db:"access_token"`  // Encrypted at rest
	RefreshToken string    `db:"refresh_token"` // Encrypted at rest
	Expiry       time.Time `db:"expiry"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// AuthContext identifies the user on whose behalf an operation runs
type AuthContext struct {
	UserID string
}
