package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chatwidget/internal/domain"
	"github.com/ashureev/chatwidget/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	itemMu sync.Mutex // Serializes item writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS visitors (
		visitor_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_at);

	CREATE TABLE IF NOT EXISTS widget_items (
		visitor_id TEXT NOT NULL,
		item_key TEXT NOT NULL,
		item_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (visitor_id, item_key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVisitor retrieves a visitor by ID.
func (s *SQLiteStore) GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error) {
	query := `
		SELECT visitor_id, last_seen_at, created_at, updated_at
		FROM visitors WHERE visitor_id = ?`

	row := s.db.QueryRowContext(ctx, query, visitorID)

	var v domain.Visitor
	var lastSeen, createdAt, updatedAt int64
	err := row.Scan(&v.VisitorID, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan visitor row: %w", err)
	}

	v.LastSeenAt = time.Unix(lastSeen, 0)
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

// UpsertVisitor creates or updates a visitor record.
func (s *SQLiteStore) UpsertVisitor(ctx context.Context, v *domain.Visitor) error {
	query := `
	INSERT INTO visitors (visitor_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		v.VisitorID, v.LastSeenAt.Unix(), v.CreatedAt.Unix(), v.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert visitor: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error {
	query := `UPDATE visitors SET last_seen_at = ?, updated_at = ? WHERE visitor_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), visitorID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "visitor_id", visitorID)
	}
	return nil
}

// GetItem reads one widget storage value.
func (s *SQLiteStore) GetItem(ctx context.Context, visitorID, key string) (string, error) {
	query := `SELECT item_value FROM widget_items WHERE visitor_id = ? AND item_key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, visitorID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("scan widget item: %w", err)
	}
	return value, nil
}

// SetItem writes one widget storage value.
func (s *SQLiteStore) SetItem(ctx context.Context, visitorID, key, value string) error {
	query := `
	INSERT INTO widget_items (visitor_id, item_key, item_value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(visitor_id, item_key) DO UPDATE SET
		item_value = excluded.item_value,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, "set widget item", func() error {
		s.itemMu.Lock()
		defer s.itemMu.Unlock()
		if _, err := s.db.ExecContext(ctx, query, visitorID, key, value, time.Now().Unix()); err != nil {
			return fmt.Errorf("set widget item: %w", err)
		}
		return nil
	})
}

// RemoveItem deletes one widget storage value.
func (s *SQLiteStore) RemoveItem(ctx context.Context, visitorID, key string) error {
	query := `DELETE FROM widget_items WHERE visitor_id = ? AND item_key = ?`

	return shared.RetryOnConflict(ctx, "remove widget item", func() error {
		s.itemMu.Lock()
		defer s.itemMu.Unlock()
		if _, err := s.db.ExecContext(ctx, query, visitorID, key); err != nil {
			return fmt.Errorf("remove widget item: %w", err)
		}
		return nil
	})
}

// DeleteIdleVisitors removes visitors not seen within ttl along with their items.
func (s *SQLiteStore) DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()

	s.itemMu.Lock()
	defer s.itemMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin idle visitor cleanup: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back idle visitor cleanup", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM widget_items WHERE visitor_id IN (
			SELECT visitor_id FROM visitors WHERE last_seen_at < ?
		)`, threshold); err != nil {
		return 0, fmt.Errorf("delete idle visitor items: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM visitors WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle visitors: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idle visitors rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit idle visitor cleanup: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
