package usage

import (
	"context"
	"fmt"
	"time"
)

// Kind is a metered resource
type Kind string

const (
	KindMessage Kind = "message"
	KindDraft   Kind = "draft"
)

// Unbounded is the ceiling reported for premium users
const Unbounded = -1

// Counter counts rows created since a point in time
type Counter interface {
	CountMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountDraftsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Limits are the free tier daily ceilings
type Limits struct {
	MessagesPerDay int
	DraftsPerDay   int
}

// Snapshot is the usage of a user for the current day
type Snapshot struct {
	Premium      bool      `json:"premium"`
	WindowStart  time.Time `json:"window_start"`
	Messages     int       `json:"messages"`
	MessageLimit int       `json:"message_limit"`
	Drafts       int       `json:"drafts"`
	DraftLimit   int       `json:"draft_limit"`
}

// Meter enforces per-day ceilings by tier
type Meter struct {
	counter Counter
	limits  Limits
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Meter
type Option func(*Meter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// NewMeter creates a meter whose day starts at local midnight in loc
func NewMeter(counter Counter, limits Limits, loc *time.Location, opts ...Option) *Meter {
	if loc == nil {
		loc = time.Local
	}
	m := &Meter{
		counter: counter,
		limits:  limits,
		loc:     loc,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DayStart returns the start of the current metering window
func (m *Meter) DayStart() time.Time {
	t := m.now().In(m.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.loc)
}

// Ceiling returns the daily ceiling for kind, or Unbounded
func (m *Meter) Ceiling(kind Kind, premium bool) int {
	if premium {
		return Unbounded
	}
	switch kind {
	case KindMessage:
		return m.limits.MessagesPerDay
	case KindDraft:
		return m.limits.DraftsPerDay
	default:
		return 0
	}
}

// Window returns the start of today's window and the ceiling for kind
func (m *Meter) Window(kind Kind, premium bool) (time.Time, int) {
	return m.DayStart(), m.Ceiling(kind, premium)
}

// CountToday counts kind created since local midnight
func (m *Meter) CountToday(ctx context.Context, userID string, kind Kind) (int, error) {
	since := m.DayStart()
	switch kind {
	case KindMessage:
		return m.counter.CountMessagesSince(ctx, userID, since)
	case KindDraft:
		return m.counter.CountDraftsSince(ctx, userID, since)
	default:
		return 0, fmt.Errorf("unknown usage kind %q", kind)
	}
}

// CheckLimit reports whether another unit of kind may be created today.
// The answer is advisory; stores enforce the ceiling on insert.
func (m *Meter) CheckLimit(ctx context.Context, userID string, kind Kind, premium bool) (bool, error) {
	ceiling := m.Ceiling(kind, premium)
	if ceiling == Unbounded {
		return true, nil
	}

	count, err := m.CountToday(ctx, userID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to count %s usage: %w", kind, err)
	}
	return count < ceiling, nil
}

// Snapshot returns today's counts and ceilings
func (m *Meter) Snapshot(ctx context.Context, userID string, premium bool) (*Snapshot, error) {
	messages, err := m.CountToday(ctx, userID, KindMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to count message usage: %w", err)
	}

	drafts, err := m.CountToday(ctx, userID, KindDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to count draft usage: %w", err)
	}

	return &Snapshot{
		Premium:      premium,
		WindowStart:  m.DayStart(),
		Messages:     messages,
		MessageLimit: m.Ceiling(KindMessage, premium),
		Drafts:       drafts,
		DraftLimit:   m.Ceiling(KindDraft, premium),
	}, nil
}
