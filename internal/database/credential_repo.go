package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/replydesk/pkg/models"
)

// UpsertCredential stores the credential of a user, replacing any previous one
func (db *DB) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (user_id, access_token, refresh_token, expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at
	`
	ts := now()
	_, err := db.ExecContext(ctx, query,
		cred.UserID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.Expiry.UTC(),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = ts
	}
	cred.UpdatedAt = ts
	return nil
}

// GetCredential returns the credential of a user
func (db *DB) GetCredential(ctx context.Context, userID string) (*models.Credential, error) {
	var cred models.Credential
	query := `SELECT * FROM credentials WHERE user_id = ?`
	err := db.GetContext(ctx, &cred, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// DeleteCredential disconnects the mailbox of a user
func (db *DB) DeleteCredential(ctx context.Context, userID string) error {
	query := `DELETE FROM credentials WHERE user_id = ?`
	_, err := db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
