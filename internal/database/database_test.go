package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mixelka/replydesk/pkg/models"
	"github.com/nalgeon/be"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	be.Err(t, err, nil)
	t.Cleanup(func() { _ = db.Close() })
	be.Err(t, db.Migrate(context.Background()), nil)
	return db
}

func newMessage(userID, providerID string, received time.Time) *models.Message {
	return &models.Message{
		UserID:            userID,
		ProviderMessageID: providerID,
		ThreadID:          "thread-" + providerID,
		SenderAddress:     "alice@example.com",
		SenderName:        "Alice",
		Subject:           "Subject " + providerID,
		PlainBody:         "Body " + providerID,
		ReceivedAt:        received,
		RequiresReply:     true,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	be.Err(t, db.Migrate(context.Background()), nil)
}

func TestInsertMessageDeduplicates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, first, Unlimited), nil)
	be.True(t, first.ID > 0)

	again := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, again, Unlimited), ErrAlreadyExists)

	// Same provider id for another user is a different row
	other := newMessage("u2", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, other, Unlimited), nil)

	msgs, err := db.ListMessages(ctx, "u1")
	be.Err(t, err, nil)
	be.Equal(t, len(msgs), 1)
}

func TestInsertMessageConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.InsertMessage(ctx, newMessage("u1", "same", time.Now()), Unlimited)
		}(i)
	}
	wg.Wait()

	inserted := 0
	for _, err := range errs {
		if err == nil {
			inserted++
			continue
		}
		be.Err(t, err, ErrAlreadyExists)
	}
	be.Equal(t, inserted, 1)
}

func TestInsertMessageRespectsQuota(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	quota := Quota{Since: time.Now().Add(-time.Hour), Limit: 2}

	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "a", time.Now()), quota), nil)
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "b", time.Now()), quota), nil)
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "c", time.Now()), quota), ErrLimitExceeded)

	// Rows created before the window do not count
	fresh := Quota{Since: time.Now().Add(time.Hour), Limit: 2}
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "c", time.Now()), fresh), nil)

	count, err := db.CountMessagesSince(ctx, "u1", time.Now().Add(-time.Hour))
	be.Err(t, err, nil)
	be.Equal(t, count, 3)
}

func TestListMessagesNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "old", base), Unlimited), nil)
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "new", base.Add(2*time.Hour)), Unlimited), nil)
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "mid", base.Add(time.Hour)), Unlimited), nil)

	msgs, err := db.ListMessages(ctx, "u1")
	be.Err(t, err, nil)
	be.Equal(t, len(msgs), 3)
	be.Equal(t, msgs[0].ProviderMessageID, "new")
	be.Equal(t, msgs[1].ProviderMessageID, "mid")
	be.Equal(t, msgs[2].ProviderMessageID, "old")
	be.True(t, msgs[0].ReceivedAt.Equal(base.Add(2*time.Hour)))
}

func TestGetMessageScopedToOwner(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)

	got, err := db.GetMessage(ctx, "u1", msg.ID)
	be.Err(t, err, nil)
	be.Equal(t, got.Subject, "Subject p1")

	_, err = db.GetMessage(ctx, "u2", msg.ID)
	be.Err(t, err, ErrNotFound)

	be.Err(t, db.MarkMessageAsRead(ctx, "u2", msg.ID), ErrNotFound)
	be.Err(t, db.MarkMessageAsRead(ctx, "u1", msg.ID), nil)

	got, err = db.GetMessage(ctx, "u1", msg.ID)
	be.Err(t, err, nil)
	be.True(t, got.IsRead)
}

func TestHistoricalPairsTopThreeNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	for i := range 5 {
		msg := newMessage("u1", fmt.Sprintf("h%d", i), base.Add(time.Duration(i)*time.Hour))
		be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)
		draft := &models.Draft{UserID: "u1", MessageID: msg.ID, Subject: "Re", PlainBody: fmt.Sprintf("reply %d", i)}
		be.Err(t, db.InsertDraft(ctx, draft, Unlimited), nil)
	}

	// Message without draft is skipped
	be.Err(t, db.InsertMessage(ctx, newMessage("u1", "nodraft", base.Add(10*time.Hour)), Unlimited), nil)

	target := newMessage("u1", "target", base.Add(11*time.Hour))
	be.Err(t, db.InsertMessage(ctx, target, Unlimited), nil)
	be.Err(t, db.InsertDraft(ctx, &models.Draft{UserID: "u1", MessageID: target.ID, PlainBody: "self"}, Unlimited), nil)

	pairs, err := db.HistoricalPairs(ctx, "u1", target.ID, 3)
	be.Err(t, err, nil)
	be.Equal(t, len(pairs), 3)
	be.Equal(t, pairs[0].Subject, "Subject h4")
	be.Equal(t, pairs[0].Reply, "reply 4")
	be.Equal(t, pairs[1].Reply, "reply 3")
	be.Equal(t, pairs[2].Reply, "reply 2")

	none, err := db.HistoricalPairs(ctx, "u2", 0, 3)
	be.Err(t, err, nil)
	be.Equal(t, len(none), 0)
}

func TestHistoricalPairsUsesLatestDraft(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)
	be.Err(t, db.InsertDraft(ctx, &models.Draft{UserID: "u1", MessageID: msg.ID, PlainBody: "first"}, Unlimited), nil)
	be.Err(t, db.InsertDraft(ctx, &models.Draft{UserID: "u1", MessageID: msg.ID, PlainBody: "second"}, Unlimited), nil)

	pairs, err := db.HistoricalPairs(ctx, "u1", 0, 3)
	be.Err(t, err, nil)
	be.Equal(t, len(pairs), 1)
	be.Equal(t, pairs[0].Reply, "second")
}

func TestInsertDraftRespectsQuota(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)

	quota := Quota{Since: time.Now().Add(-time.Minute), Limit: 1}
	be.Err(t, db.InsertDraft(ctx, &models.Draft{UserID: "u1", MessageID: msg.ID}, quota), nil)
	be.Err(t, db.InsertDraft(ctx, &models.Draft{UserID: "u1", MessageID: msg.ID}, quota), ErrLimitExceeded)

	drafts, err := db.ListDrafts(ctx, "u1", msg.ID)
	be.Err(t, err, nil)
	be.Equal(t, len(drafts), 1)
}

func TestMarkDraftSentOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)
	draft := &models.Draft{UserID: "u1", MessageID: msg.ID, Subject: "Re: hi", PlainBody: "hello"}
	be.Err(t, db.InsertDraft(ctx, draft, Unlimited), nil)

	sentAt := time.Now()
	be.Err(t, db.MarkDraftSent(ctx, "u1", draft.ID, "gm-1", sentAt), nil)
	be.Err(t, db.MarkDraftSent(ctx, "u1", draft.ID, "gm-2", sentAt), ErrAlreadySent)
	be.Err(t, db.MarkDraftSent(ctx, "u2", draft.ID, "gm-3", sentAt), ErrNotFound)

	got, err := db.GetDraft(ctx, "u1", draft.ID)
	be.Err(t, err, nil)
	be.True(t, got.IsSent)
	be.True(t, got.IsApproved)
	be.Equal(t, got.ProviderMessageID, "gm-1")
	be.True(t, got.SentAt != nil)

	got.Subject = "changed"
	be.Err(t, db.UpdateDraftContent(ctx, got), ErrAlreadySent)
}

func TestUpdateDraftContent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	msg := newMessage("u1", "p1", time.Now())
	be.Err(t, db.InsertMessage(ctx, msg, Unlimited), nil)
	draft := &models.Draft{UserID: "u1", MessageID: msg.ID, Subject: "Re: hi", PlainBody: "hello"}
	be.Err(t, db.InsertDraft(ctx, draft, Unlimited), nil)

	draft.Subject = "Re: hi there"
	draft.PlainBody = "edited"
	draft.HTMLBody = "<p>edited</p>"
	be.Err(t, db.UpdateDraftContent(ctx, draft), nil)

	got, err := db.GetDraft(ctx, "u1", draft.ID)
	be.Err(t, err, nil)
	be.Equal(t, got.Subject, "Re: hi there")
	be.Equal(t, got.PlainBody, "edited")
	be.True(t, !got.IsSent)

	missing := &models.Draft{ID: 999, UserID: "u1"}
	be.Err(t, db.UpdateDraftContent(ctx, missing), ErrNotFound)
}

func TestCredentialUpsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.GetCredential(ctx, "u1")
	be.Err(t, err, ErrNotFound)

	expiry := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	be.Err(t, db.UpsertCredential(ctx, &models.Credential{UserID: "u1", AccessToken: "a1", RefreshToken: "r1", Expiry: expiry}), nil)
	be.Err(t, db.UpsertCredential(ctx, &models.Credential{UserID: "u1", AccessToken: "a2", RefreshToken: "r1", Expiry: expiry.Add(time.Hour)}), nil)

	cred, err := db.GetCredential(ctx, "u1")
	be.Err(t, err, nil)
	be.Equal(t, cred.AccessToken, "a2")
	be.True(t, cred.Expiry.Equal(expiry.Add(time.Hour)))

	be.Err(t, db.DeleteCredential(ctx, "u1"), nil)
	_, err = db.GetCredential(ctx, "u1")
	be.Err(t, err, ErrNotFound)
}

func TestGetSubscription(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.GetSubscription(ctx, "u1")
	be.Err(t, err, ErrNotFound)

	// Rows are written by the billing backend
	ts := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	_, err = db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"u1", models.SubscriptionActive, ts, ts,
	)
	be.Err(t, err, nil)

	sub, err := db.GetSubscription(ctx, "u1")
	be.Err(t, err, nil)
	be.Equal(t, sub.Status, models.SubscriptionActive)
}
