package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// ErrLimitExceeded is returned when an insert would pass the daily ceiling
var ErrLimitExceeded = errors.New("daily limit exceeded")

// ErrAlreadySent is returned when a sent draft is modified or sent again
var ErrAlreadySent = errors.New("draft already sent")

// Quota bounds an insert to Limit rows created since Since.
// A negative Limit means unbounded.
type Quota struct {
	Since time.Time
	Limit int
}

// Unlimited is a quota that never rejects
var Unlimited = Quota{Limit: -1}

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
}

// New creates a new database connection
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Immediate transactions take the write lock on BEGIN so count-then-insert is atomic
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// checkQuota counts rows of table for the user since the quota window
func checkQuota(ctx context.Context, tx *sqlx.Tx, table, userID string, q Quota) error {
	if q.Limit < 0 {
		return nil
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = ? AND created_at >= ?`, table)
	if err := tx.GetContext(ctx, &count, query, userID, q.Since.UTC()); err != nil {
		return fmt.Errorf("failed to count %s: %w", table, err)
	}
	if count >= q.Limit {
		return ErrLimitExceeded
	}
	return nil
}

// now is UTC wall time; timestamps are compared as text so they must share a zone
func now() time.Time {
	return time.Now().UTC()
}
