package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mixelka/replydesk/internal/database"
	"github.com/mixelka/replydesk/pkg/models"
)

// Store reads subscription state
type Store interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Service resolves the tier of a user
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a billing service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "billing"),
	}
}

// IsPremium reports whether the user has a paid subscription in good standing
func (s *Service) IsPremium(ctx context.Context, userID string) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get subscription: %w", err)
	}

	premium := IsPremiumStatus(sub.Status)
	s.logger.Debug("resolved tier", "user_id", userID, "status", sub.Status, "premium", premium)
	return premium, nil
}

// IsPremiumStatus maps a processor status onto the premium tier
func IsPremiumStatus(status string) bool {
	switch status {
	case models.SubscriptionActive, models.SubscriptionTrialing:
		return true
	default:
		return false
	}
}
