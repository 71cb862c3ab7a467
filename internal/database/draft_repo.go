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

// InsertDraft stores a generated draft unless the quota is spent
func (db *DB) InsertDraft(ctx context.Context, draft *models.Draft, quota Quota) error {
	ts := now()
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := checkQuota(ctx, tx, "drafts", draft.UserID, quota); err != nil {
			return err
		}

		query := `
			INSERT INTO drafts (user_id, message_id, subject, plain_body, html_body, is_approved, is_sent, provider_message_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, false, false, '', ?, ?)
		`
		result, err := tx.ExecContext(ctx, query,
			draft.UserID,
			draft.MessageID,
			draft.Subject,
			draft.PlainBody,
			draft.HTMLBody,
			ts,
			ts,
		)
		if err != nil {
			return fmt.Errorf("failed to create draft: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		draft.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	draft.IsApproved = false
	draft.IsSent = false
	draft.CreatedAt = ts
	draft.UpdatedAt = ts
	return nil
}

// GetDraft returns a draft owned by the user
func (db *DB) GetDraft(ctx context.Context, userID string, id int64) (*models.Draft, error) {
	var draft models.Draft
	query := `SELECT * FROM drafts WHERE id = ? AND user_id = ?`
	err := db.GetContext(ctx, &draft, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return &draft, nil
}

// ListDrafts returns the drafts of a message, newest first
func (db *DB) ListDrafts(ctx context.Context, userID string, messageID int64) ([]*models.Draft, error) {
	drafts := []*models.Draft{}
	query := `SELECT * FROM drafts WHERE user_id = ? AND message_id = ? ORDER BY created_at DESC, id DESC`
	err := db.SelectContext(ctx, &drafts, query, userID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// UpdateDraftContent replaces subject and bodies of an unsent draft
func (db *DB) UpdateDraftContent(ctx context.Context, draft *models.Draft) error {
	query := `
		UPDATE drafts SET subject = ?, plain_body = ?, html_body = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_sent = false
	`
	ts := now()
	result, err := db.ExecContext(ctx, query,
		draft.Subject,
		draft.PlainBody,
		draft.HTMLBody,
		ts,
		draft.ID,
		draft.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}

	if err := db.explainNoop(ctx, result, draft.UserID, draft.ID); err != nil {
		return err
	}

	draft.UpdatedAt = ts
	return nil
}

// MarkDraftSent flips a draft to sent and approved exactly once.
// A draft that is already sent yields ErrAlreadySent.
func (db *DB) MarkDraftSent(ctx context.Context, userID string, id int64, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE drafts SET is_sent = true, is_approved = true, provider_message_id = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_sent = false
	`
	result, err := db.ExecContext(ctx, query, providerMessageID, sentAt.UTC(), now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark draft as sent: %w", err)
	}
	return db.explainNoop(ctx, result, userID, id)
}

// CountDraftsSince counts drafts created for the user since the given time
func (db *DB) CountDraftsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM drafts WHERE user_id = ? AND created_at >= ?`
	if err := db.GetContext(ctx, &count, query, userID, since.UTC()); err != nil {
		return 0, fmt.Errorf("failed to count drafts: %w", err)
	}
	return count, nil
}

// explainNoop maps a guarded update that touched nothing to ErrNotFound or ErrAlreadySent
func (db *DB) explainNoop(ctx context.Context, result sql.Result, userID string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := db.GetDraft(ctx, userID, id); err != nil {
		return err
	}
	return ErrAlreadySent
}
