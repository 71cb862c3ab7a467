package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mixelka/replydesk/internal/database"
	"github.com/mixelka/replydesk/internal/normalizer"
	"github.com/mixelka/replydesk/internal/reply"
	"github.com/mixelka/replydesk/internal/usage"
	"github.com/mixelka/replydesk/pkg/models"
	"google.golang.org/api/gmail/v1"
)

var (
	// ErrAuthRequired is returned when no user is attached to the call
	ErrAuthRequired = errors.New("authentication required")
	// ErrNotFound is returned for missing rows and rows owned by someone else
	ErrNotFound = errors.New("not found")
	// ErrAlreadySent is returned when a sent draft is sent or edited again
	ErrAlreadySent = errors.New("draft has already been sent")
	// ErrLimitExceeded is returned when the daily ceiling is spent
	ErrLimitExceeded = errors.New("daily limit reached")
	// ErrInvalidInput is returned for missing required fields
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the persistence the orchestrator needs
type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message, quota database.Quota) error
	GetMessage(ctx context.Context, userID string, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, userID string) ([]*models.Message, error)
	MessageExists(ctx context.Context, userID, providerMessageID string) (bool, error)
	MarkMessageAsRead(ctx context.Context, userID string, id int64) error
	HistoricalPairs(ctx context.Context, userID string, excludeID int64, limit int) ([]models.HistoricalPair, error)

	InsertDraft(ctx context.Context, draft *models.Draft, quota database.Quota) error
	GetDraft(ctx context.Context, userID string, id int64) (*models.Draft, error)
	ListDrafts(ctx context.Context, userID string, messageID int64) ([]*models.Draft, error)
	UpdateDraftContent(ctx context.Context, draft *models.Draft) error
	MarkDraftSent(ctx context.Context, userID string, id int64, providerMessageID string, sentAt time.Time) error
}

// Mailbox is the provider side, with credential refresh handled inside
type Mailbox interface {
	Connected(ctx context.Context, userID string) (bool, error)
	ListCandidateMessages(ctx context.Context, userID string, limit int) ([]string, error)
	GetMessage(ctx context.Context, userID, id string) (*gmail.Message, error)
	SendMessage(ctx context.Context, userID string, raw []byte, threadID string) (string, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Tiers resolves the subscription tier
type Tiers interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

// Generator drafts reply text
type Generator interface {
	Generate(ctx context.Context, msg *models.Message, history []models.HistoricalPair) (string, error)
}

// Deps holds the collaborators of a Service
type Deps struct {
	Store      Store
	Mailbox    Mailbox
	Normalizer *normalizer.Normalizer
	Generator  Generator
	Meter      *usage.Meter
	Tiers      Tiers
	Logger     *slog.Logger

	// FetchLimit caps candidates listed per fetch
	FetchLimit int
	// Now overrides the clock
	Now func() time.Time
}

// Service runs the fetch, draft and send workflows
type Service struct {
	store      Store
	mailbox    Mailbox
	normalizer *normalizer.Normalizer
	generator  Generator
	meter      *usage.Meter
	tiers      Tiers
	fetchLimit int
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates an orchestrator
func NewService(deps Deps) *Service {
	fetchLimit := deps.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = 10
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	norm := deps.Normalizer
	if norm == nil {
		norm = normalizer.New()
	}

	return &Service{
		store:      deps.Store,
		mailbox:    deps.Mailbox,
		normalizer: norm,
		generator:  deps.Generator,
		meter:      deps.Meter,
		tiers:      deps.Tiers,
		fetchLimit: fetchLimit,
		now:        now,
		logger:     deps.Logger.With("component", "assistant"),
	}
}

// FetchResult summarizes one ingestion pass
type FetchResult struct {
	Messages     []*models.Message `json:"messages"`
	Ingested     int               `json:"ingested"`
	Skipped      int               `json:"skipped"`
	Malformed    int               `json:"malformed"`
	LimitReached bool              `json:"limit_reached"`
}

// FetchMessages pulls candidate messages from the mailbox and stores new ones.
// Ingestion stops at the daily ceiling; stored messages are returned newest first.
func (s *Service) FetchMessages(ctx context.Context, auth models.AuthContext) (*FetchResult, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	logger := s.logger.With("user_id", auth.UserID)

	premium, err := s.premium(ctx, auth.UserID)
	if err != nil {
		return nil, err
	}

	ok, err := s.meter.CheckLimit(ctx, auth.UserID, usage.KindMessage, premium)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLimitExceeded
	}

	ids, err := s.mailbox.ListCandidateMessages(ctx, auth.UserID, s.fetchLimit)
	if err != nil {
		return nil, err
	}

	since, ceiling := s.meter.Window(usage.KindMessage, premium)
	quota := database.Quota{Since: since, Limit: ceiling}

	result := &FetchResult{}
	for _, id := range ids {
		exists, err := s.store.MessageExists(ctx, auth.UserID, id)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}

		raw, err := s.mailbox.GetMessage(ctx, auth.UserID, id)
		if err != nil {
			return nil, err
		}

		msg, err := s.normalizer.Normalize(auth.UserID, raw)
		if err != nil {
			if msg == nil {
				logger.Warn("skipping unreadable message", "provider_message_id", id, "error", err)
				result.Malformed++
				continue
			}
			// Headers survive; store without body
			logger.Warn("message body could not be extracted", "provider_message_id", id, "error", err)
			result.Malformed++
		}

		err = s.store.InsertMessage(ctx, msg, quota)
		if errors.Is(err, database.ErrAlreadyExists) {
			result.Skipped++
			continue
		}
		if errors.Is(err, database.ErrLimitExceeded) {
			logger.Info("daily message limit reached during fetch", "ingested", result.Ingested)
			result.LimitReached = true
			break
		}
		if err != nil {
			return nil, err
		}
		result.Ingested++
	}

	messages, err := s.store.ListMessages(ctx, auth.UserID)
	if err != nil {
		return nil, err
	}
	result.Messages = messages

	logger.Info("fetched messages", "candidates", len(ids), "ingested", result.Ingested, "skipped", result.Skipped)
	return result, nil
}

// ListMessages returns the stored messages of the user, newest first
func (s *Service) ListMessages(ctx context.Context, auth models.AuthContext) ([]*models.Message, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	return s.store.ListMessages(ctx, auth.UserID)
}

// MarkRead marks a message read locally and at the provider
func (s *Service) MarkRead(ctx context.Context, auth models.AuthContext, messageID int64) error {
	if auth.UserID == "" {
		return ErrAuthRequired
	}

	msg, err := s.store.GetMessage(ctx, auth.UserID, messageID)
	if err != nil {
		return mapStoreErr(err)
	}

	if err := s.mailbox.MarkRead(ctx, auth.UserID, msg.ProviderMessageID); err != nil {
		return err
	}
	return mapStoreErr(s.store.MarkMessageAsRead(ctx, auth.UserID, messageID))
}

// GenerateDraft drafts and stores a reply to a message
func (s *Service) GenerateDraft(ctx context.Context, auth models.AuthContext, messageID int64) (*models.Draft, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	logger := s.logger.With("user_id", auth.UserID, "message_id", messageID)

	msg, err := s.store.GetMessage(ctx, auth.UserID, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	premium, err := s.premium(ctx, auth.UserID)
	if err != nil {
		return nil, err
	}

	ok, err := s.meter.CheckLimit(ctx, auth.UserID, usage.KindDraft, premium)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLimitExceeded
	}

	history, err := s.store.HistoricalPairs(ctx, auth.UserID, msg.ID, reply.MaxHistory)
	if err != nil {
		logger.Warn("failed to load reply history, continuing without", "error", err)
		history = nil
	}

	text, err := s.generator.Generate(ctx, msg, history)
	if err != nil {
		logger.Error("reply generation failed", "error", err)
		return nil, err
	}

	draft := &models.Draft{
		UserID:    auth.UserID,
		MessageID: msg.ID,
		Subject:   reply.Subject(msg.Subject),
		PlainBody: text,
		HTMLBody:  reply.HTMLFromPlain(text),
	}

	since, ceiling := s.meter.Window(usage.KindDraft, premium)
	if err := s.store.InsertDraft(ctx, draft, database.Quota{Since: since, Limit: ceiling}); err != nil {
		return nil, mapStoreErr(err)
	}

	logger.Info("draft generated", "draft_id", draft.ID, "history", len(history))
	return draft, nil
}

// DraftEdit holds user changes to a draft
type DraftEdit struct {
	Subject   string `json:"subject"`
	PlainBody string `json:"plain_body"`
	HTMLBody  string `json:"html_body"`
}

// EditDraft replaces the content of an unsent draft
func (s *Service) EditDraft(ctx context.Context, auth models.AuthContext, draftID int64, edit DraftEdit) (*models.Draft, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	if strings.TrimSpace(edit.Subject) == "" || strings.TrimSpace(edit.PlainBody) == "" {
		return nil, fmt.Errorf("%w: subject and body are required", ErrInvalidInput)
	}

	draft, err := s.store.GetDraft(ctx, auth.UserID, draftID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if draft.IsSent {
		return nil, ErrAlreadySent
	}

	draft.Subject = edit.Subject
	draft.PlainBody = edit.PlainBody
	draft.HTMLBody = edit.HTMLBody
	if strings.TrimSpace(draft.HTMLBody) == "" {
		draft.HTMLBody = reply.HTMLFromPlain(edit.PlainBody)
	}

	if err := s.store.UpdateDraftContent(ctx, draft); err != nil {
		return nil, mapStoreErr(err)
	}
	return draft, nil
}

// ListDrafts returns the drafts of a message, newest first
func (s *Service) ListDrafts(ctx context.Context, auth models.AuthContext, messageID int64) ([]*models.Draft, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	if _, err := s.store.GetMessage(ctx, auth.UserID, messageID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.ListDrafts(ctx, auth.UserID, messageID)
}

// SendDraft sends a draft through the mailbox and marks it sent.
// A draft is sent at most once.
func (s *Service) SendDraft(ctx context.Context, auth models.AuthContext, draftID int64) (*models.Draft, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	logger := s.logger.With("user_id", auth.UserID, "draft_id", draftID)

	draft, err := s.store.GetDraft(ctx, auth.UserID, draftID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if draft.IsSent {
		return nil, ErrAlreadySent
	}

	msg, err := s.store.GetMessage(ctx, auth.UserID, draft.MessageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	now := s.now()
	raw, err := composeReply(msg, draft, now)
	if err != nil {
		return nil, err
	}

	providerID, err := s.mailbox.SendMessage(ctx, auth.UserID, raw, msg.ThreadID)
	if err != nil {
		logger.Error("failed to send draft", "error", err)
		return nil, err
	}

	// The provider accepted the message; a failure from here on needs reconciliation
	if err := s.store.MarkDraftSent(context.WithoutCancel(ctx), auth.UserID, draft.ID, providerID, now); err != nil {
		logger.Error("draft sent but not marked as sent",
			"provider_message_id", providerID,
			"reconcile", true,
			"error", err,
		)
		return nil, mapStoreErr(err)
	}

	sentAt := now
	draft.IsSent = true
	draft.IsApproved = true
	draft.ProviderMessageID = providerID
	draft.SentAt = &sentAt

	logger.Info("draft sent", "provider_message_id", providerID)
	return draft, nil
}

// Usage returns today's usage of the user
func (s *Service) Usage(ctx context.Context, auth models.AuthContext) (*usage.Snapshot, error) {
	if auth.UserID == "" {
		return nil, ErrAuthRequired
	}
	premium, err := s.premium(ctx, auth.UserID)
	if err != nil {
		return nil, err
	}
	return s.meter.Snapshot(ctx, auth.UserID, premium)
}

// Connected reports whether the user has connected a mailbox
func (s *Service) Connected(ctx context.Context, auth models.AuthContext) (bool, error) {
	if auth.UserID == "" {
		return false, ErrAuthRequired
	}
	return s.mailbox.Connected(ctx, auth.UserID)
}

func (s *Service) premium(ctx context.Context, userID string) (bool, error) {
	premium, err := s.tiers.IsPremium(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve tier: %w", err)
	}
	return premium, nil
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrAlreadySent):
		return ErrAlreadySent
	case errors.Is(err, database.ErrLimitExceeded):
		return ErrLimitExceeded
	default:
		return err
	}
}
