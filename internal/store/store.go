// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/chatwidget/internal/domain"
)

// ErrItemNotFound is returned when a widget item has never been written.
var ErrItemNotFound = errors.New("widget item not found")

// Repository defines the interface for persisting visitors and their widget
// storage.
type Repository interface {
	// GetVisitor retrieves a visitor by ID. Returns nil, nil when unknown.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// GetItem reads one widget storage value.
	GetItem(ctx context.Context, visitorID, key string) (string, error)

	// SetItem writes one widget storage value. Last writer wins.
	SetItem(ctx context.Context, visitorID, key, value string) error

	// RemoveItem deletes one widget storage value. Missing keys are not an error.
	RemoveItem(ctx context.Context, visitorID, key string) error

	// DeleteIdleVisitors removes visitors (and their items) not seen within ttl.
	DeleteIdleVisitors(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
