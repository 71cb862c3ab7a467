package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mixelka/replydesk/pkg/models"
)

// GetSubscription returns the subscription of a user
func (db *DB) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	query := `SELECT * FROM subscriptions WHERE user_id = ?`
	err := db.GetContext(ctx, &sub, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}
