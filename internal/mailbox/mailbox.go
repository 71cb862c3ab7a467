package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/replydesk/internal/database"
	"github.com/mixelka/replydesk/internal/provider"
	"github.com/mixelka/replydesk/internal/secret"
	"github.com/mixelka/replydesk/pkg/models"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/gmail/v1"
)

var (
	// ErrCredentialMissing is returned when the user never connected a mailbox
	ErrCredentialMissing = errors.New("mailbox not connected")
	// ErrCredentialExpired is returned when the access token expired and refresh failed
	ErrCredentialExpired = errors.New("mailbox credential expired")
	// ErrSendFailed is returned when the provider rejects an outgoing message
	ErrSendFailed = errors.New("failed to send message")
)

// Store persists credentials
type Store interface {
	GetCredential(ctx context.Context, userID string) (*models.Credential, error)
	UpsertCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

// Service owns the credential lifecycle and fronts the provider client.
// Every provider call is preceded by a freshness check.
type Service struct {
	client provider.Client
	store  Store
	cipher *secret.Cipher
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a mailbox service
func NewService(client provider.Client, store Store, cipher *secret.Cipher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		client: client,
		store:  store,
		cipher: cipher,
		now:    time.Now,
		logger: logger.With("component", "mailbox"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthURL returns the provider consent URL
func (s *Service) AuthURL(state string) string {
	return s.client.AuthURL(state)
}

// Connect exchanges an authorization code and stores the resulting credential
func (s *Service) Connect(ctx context.Context, userID, code string) error {
	token, err := s.client.Exchange(ctx, code)
	if err != nil {
		return err
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("provider returned no refresh token")
	}

	if err := s.save(ctx, userID, token); err != nil {
		return err
	}

	s.logger.Info("mailbox connected", "user_id", userID)
	return nil
}

// Disconnect forgets the stored credential of the user.
// Disconnecting a user without a credential is not an error.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	if err := s.store.DeleteCredential(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("mailbox disconnected", "user_id", userID)
	return nil
}

// Connected reports whether a credential exists for the user
func (s *Service) Connected(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.GetCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get credential: %w", err)
	}
	return true, nil
}

// Token returns a usable access token, refreshing it first when expired
func (s *Service) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	token, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.fresh(token) {
		return token, nil
	}

	// One refresh per user at a time; late arrivals share the result
	v, err, shared := s.group.Do(userID, func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("shared in-flight refresh", "user_id", userID)
	}
	return v.(*oauth2.Token), nil
}

// ListCandidateMessages lists ids of messages that may need a reply
func (s *Service) ListCandidateMessages(ctx context.Context, userID string, limit int) ([]string, error) {
	token, err := s.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.client.ListCandidates(ctx, token, limit)
}

// GetMessage fetches the full provider message
func (s *Service) GetMessage(ctx context.Context, userID, id string) (*gmail.Message, error) {
	token, err := s.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.client.GetMessage(ctx, token, id)
}

// SendMessage sends raw RFC 822 bytes in the given thread
func (s *Service) SendMessage(ctx context.Context, userID string, raw []byte, threadID string) (string, error) {
	token, err := s.Token(ctx, userID)
	if err != nil {
		return "", err
	}

	id, err := s.client.Send(ctx, token, raw, threadID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return id, nil
}

// MarkRead clears the unread flag at the provider
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	token, err := s.Token(ctx, userID)
	if err != nil {
		return err
	}
	return s.client.MarkRead(ctx, token, id)
}

func (s *Service) fresh(token *oauth2.Token) bool {
	return s.now().Before(token.Expiry)
}

func (s *Service) refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	// Another caller may have refreshed between our read and entering the group
	token, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.fresh(token) {
		return token, nil
	}

	s.logger.Info("refreshing access token", "user_id", userID, "expired_at", token.Expiry)
	fresh, err := s.client.Refresh(ctx, token)
	if err != nil {
		s.logger.Warn("token refresh failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCredentialExpired, err)
	}

	if err := s.save(ctx, userID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *Service) load(ctx context.Context, userID string) (*oauth2.Token, error) {
	cred, err := s.store.GetCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrCredentialMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	access, err := s.cipher.Decrypt(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.cipher.Decrypt(cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       cred.Expiry,
	}, nil
}

func (s *Service) save(ctx context.Context, userID string, token *oauth2.Token) error {
	access, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	err = s.store.UpsertCredential(ctx, &models.Credential{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       token.Expiry,
	})
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}
