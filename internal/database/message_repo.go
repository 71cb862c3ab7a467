package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mixelka/replydesk/pkg/models"
)

// InsertMessage stores a normalized message.
// Returns ErrAlreadyExists for a known provider id and ErrLimitExceeded when
// the quota is spent. Both checks and the insert share one write transaction.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message, quota Quota) error {
	ts := now()
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		err := tx.GetContext(ctx, &exists,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = ? AND provider_message_id = ?)`,
			msg.UserID, msg.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("failed to check message: %w", err)
		}
		if exists {
			return ErrAlreadyExists
		}

		if err := checkQuota(ctx, tx, "messages", msg.UserID, quota); err != nil {
			return err
		}

		query := `
			INSERT OR IGNORE INTO messages (user_id, provider_message_id, thread_id, sender_address, sender_name, recipient, subject, plain_body, html_body, received_at, is_read, requires_reply, malformed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		result, err := tx.ExecContext(ctx, query,
			msg.UserID,
			msg.ProviderMessageID,
			msg.ThreadID,
			msg.SenderAddress,
			msg.SenderName,
			msg.Recipient,
			msg.Subject,
			msg.PlainBody,
			msg.HTMLBody,
			msg.ReceivedAt.UTC(),
			msg.IsRead,
			msg.RequiresReply,
			msg.Malformed,
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		// UNIQUE(user_id, provider_message_id) backstops the existence check
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrAlreadyExists
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		msg.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	msg.CreatedAt = ts
	return nil
}

// GetMessage returns a message owned by the user
func (db *DB) GetMessage(ctx context.Context, userID string, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ? AND user_id = ?`
	err := db.GetContext(ctx, &msg, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns all messages of a user, newest first
func (db *DB) ListMessages(ctx context.Context, userID string) ([]*models.Message, error) {
	messages := []*models.Message{}
	query := `SELECT * FROM messages WHERE user_id = ? ORDER BY received_at DESC, id DESC`
	err := db.SelectContext(ctx, &messages, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// MessageExists reports whether the provider message is already stored for the user
func (db *DB) MessageExists(ctx context.Context, userID, providerMessageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE user_id = ? AND provider_message_id = ?)`
	err := db.GetContext(ctx, &exists, query, userID, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return exists, nil
}

// MarkMessageAsRead marks a message as read
func (db *DB) MarkMessageAsRead(ctx context.Context, userID string, id int64) error {
	query := `UPDATE messages SET is_read = true WHERE id = ? AND user_id = ?`
	result, err := db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark message as read: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMessagesSince counts messages ingested for the user since the given time
func (db *DB) CountMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE user_id = ? AND created_at >= ?`
	if err := db.GetContext(ctx, &count, query, userID, since.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// HistoricalPairs returns up to limit past messages that require a reply and
// have at least one draft, newest first, paired with their latest draft.
// The message excludeID is never returned.
func (db *DB) HistoricalPairs(ctx context.Context, userID string, excludeID int64, limit int) ([]models.HistoricalPair, error) {
	pairs := []models.HistoricalPair{}
	query := `
		SELECT m.subject AS subject, m.plain_body AS body, d.plain_body AS reply
		FROM messages m
		JOIN drafts d ON d.id = (
			SELECT id FROM drafts WHERE message_id = m.id ORDER BY created_at DESC, id DESC LIMIT 1
		)
		WHERE m.user_id = ? AND m.requires_reply = true AND m.id != ?
		ORDER BY m.received_at DESC, m.id DESC
		LIMIT ?
	`
	err := db.SelectContext(ctx, &pairs, query, userID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get historical pairs: %w", err)
	}
	return pairs, nil
}
