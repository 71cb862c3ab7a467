package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailConfig holds Gmail configuration
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Gmail API base URL
	Endpoint string
	// OAuthEndpoint overrides the Google OAuth endpoints
	OAuthEndpoint *oauth2.Endpoint
	// Timeout applies to calls whose context has no deadline
	Timeout time.Duration
	// RateLimit caps API calls per second; zero means unlimited
	RateLimit float64
}

// Gmail implements Client over the Gmail REST API
type Gmail struct {
	oauth    *oauth2.Config
	endpoint string
	timeout  time.Duration
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewGmail creates a Gmail client
func NewGmail(cfg GmailConfig, logger *slog.Logger) *Gmail {
	endpoint := google.Endpoint
	if cfg.OAuthEndpoint != nil {
		endpoint = *cfg.OAuthEndpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	logger = logger.With("component", "gmail")

	return &Gmail{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
				gmail.GmailLabelsScope,
				gmail.GmailModifyScope,
			},
			Endpoint: endpoint,
		},
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		limiter:  rate.NewLimiter(limit, max(1, int(cfg.RateLimit))),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gmail-api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.ConsecutiveFailures > 5 ||
					(counts.Requests >= 10 && failureRatio >= 0.6)
			},
			IsSuccessful: func(err error) bool {
				var nce *nonCircuitError
				return err == nil || errors.As(err, &nce)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		logger: logger,
	}
}

// AuthURL returns the consent URL; offline access with forced consent yields a refresh token
func (g *Gmail) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens
func (g *Gmail) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// Refresh obtains a new access token. The refresh token is kept when the
// server does not rotate it.
func (g *Gmail) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	// Drop the access token so the source always hits the token endpoint
	src := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return fresh, nil
}

// ListCandidates returns ids of inbox messages outside the excluded categories
func (g *Gmail) ListCandidates(ctx context.Context, token *oauth2.Token, limit int) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = g.execute(ctx, "list", func() error {
		res, err := svc.Users.Messages.List("me").Q(CandidateQuery).MaxResults(int64(limit)).Context(ctx).Do()
		if err != nil {
			return err
		}
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return ids, nil
}

// GetMessage returns the full message resource
func (g *Gmail) GetMessage(ctx context.Context, token *oauth2.Token, id string) (*gmail.Message, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = g.execute(ctx, "get", func() error {
		var err error
		msg, err = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

// Send submits an RFC 822 message into the given thread and returns the new message id
func (g *Gmail) Send(ctx context.Context, token *oauth2.Token, raw []byte, threadID string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := g.service(ctx, token)
	if err != nil {
		return "", err
	}

	msg := &gmail.Message{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}

	var sent *gmail.Message
	err = g.execute(ctx, "send", func() error {
		var err error
		sent, err = svc.Users.Messages.Send("me", msg).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return sent.Id, nil
}

// MarkRead removes the UNREAD label
func (g *Gmail) MarkRead(ctx context.Context, token *oauth2.Token, id string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := g.service(ctx, token)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{UnreadLabel}}
	err = g.execute(ctx, "modify", func() error {
		_, err := svc.Users.Messages.Modify("me", id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark message %s as read: %w", id, err)
	}
	return nil
}

func (g *Gmail) service(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	// Static source: the library must never refresh behind our back
	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func (g *Gmail) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// execute waits for the rate limiter and runs fn through the circuit breaker.
// Client errors do not count as failures.
func (g *Gmail) execute(ctx context.Context, operation string, fn func() error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		g.logger.Warn("gmail call failed", "operation", operation, "breaker", g.cb.State().String(), "error", err)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// StatusCode extracts the HTTP status of a Gmail API error, or 0
func StatusCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
