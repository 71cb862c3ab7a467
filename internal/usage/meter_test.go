package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nalgeon/be"
)

type fakeCounter struct {
	messages int
	drafts   int
	err      error
	since    []time.Time
}

func (f *fakeCounter) CountMessagesSince(_ context.Context, _ string, since time.Time) (int, error) {
	f.since = append(f.since, since)
	return f.messages, f.err
}

func (f *fakeCounter) CountDraftsSince(_ context.Context, _ string, since time.Time) (int, error) {
	f.since = append(f.since, since)
	return f.drafts, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckLimitFreeTier(t *testing.T) {
	limits := Limits{MessagesPerDay: 50, DraftsPerDay: 10}
	cases := []struct {
		name    string
		kind    Kind
		counter *fakeCounter
		want    bool
	}{
		{"messages below ceiling", KindMessage, &fakeCounter{messages: 49}, true},
		{"messages at ceiling", KindMessage, &fakeCounter{messages: 50}, false},
		{"messages past ceiling", KindMessage, &fakeCounter{messages: 51}, false},
		{"drafts below ceiling", KindDraft, &fakeCounter{drafts: 9}, true},
		{"drafts at ceiling", KindDraft, &fakeCounter{drafts: 10}, false},
		{"nothing used", KindDraft, &fakeCounter{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMeter(tc.counter, limits, time.UTC)
			ok, err := m.CheckLimit(context.Background(), "u1", tc.kind, false)
			be.Err(t, err, nil)
			be.Equal(t, ok, tc.want)
		})
	}
}

func TestCheckLimitPremiumIsUnbounded(t *testing.T) {
	counter := &fakeCounter{messages: 10_000, drafts: 10_000}
	m := NewMeter(counter, Limits{MessagesPerDay: 50, DraftsPerDay: 10}, time.UTC)

	for _, kind := range []Kind{KindMessage, KindDraft} {
		ok, err := m.CheckLimit(context.Background(), "u1", kind, true)
		be.Err(t, err, nil)
		be.True(t, ok)
	}
	be.Equal(t, len(counter.since), 0)
	be.Equal(t, m.Ceiling(KindDraft, true), Unbounded)
}

func TestCheckLimitPropagatesCounterError(t *testing.T) {
	boom := errors.New("boom")
	m := NewMeter(&fakeCounter{err: boom}, Limits{MessagesPerDay: 50}, time.UTC)

	_, err := m.CheckLimit(context.Background(), "u1", KindMessage, false)
	be.Err(t, err, boom)
}

func TestDayStartUsesLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 22:30 UTC is already the next day at UTC+3
	now := time.Date(2026, 10, 14, 22, 30, 0, 0, time.UTC)
	counter := &fakeCounter{}
	m := NewMeter(counter, Limits{MessagesPerDay: 50}, loc, WithClock(fixedClock(now)))

	start := m.DayStart()
	be.True(t, start.Equal(time.Date(2026, 10, 15, 0, 0, 0, 0, loc)))

	_, err := m.CountToday(context.Background(), "u1", KindMessage)
	be.Err(t, err, nil)
	be.True(t, counter.since[0].Equal(start))
}

func TestSnapshot(t *testing.T) {
	m := NewMeter(&fakeCounter{messages: 7, drafts: 3}, Limits{MessagesPerDay: 50, DraftsPerDay: 10}, time.UTC)

	snap, err := m.Snapshot(context.Background(), "u1", false)
	be.Err(t, err, nil)
	be.Equal(t, snap.Messages, 7)
	be.Equal(t, snap.MessageLimit, 50)
	be.Equal(t, snap.Drafts, 3)
	be.Equal(t, snap.DraftLimit, 10)
	be.True(t, !snap.Premium)
}
