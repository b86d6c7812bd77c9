// Package storage defines the visitor-local key/value capability the widget
// persists its transcript and open flag through, plus its implementations.
package storage

import (
	"context"
	"errors"
)

// Keys written by the widget.
const (
	KeyChatHistory = "chatHistory"
	KeyChatIsOpen  = "chatIsOpen"
)

// ErrNotFound is returned by GetItem when the key has never been written.
var ErrNotFound = errors.New("storage: item not found")

// Storage is the capability the widget engine persists through. It mirrors a
// browser's local storage: string values, no schema, last writer wins.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Provider hands out one Storage per visitor.
type Provider interface {
	ForVisitor(visitorID string) Storage
	Ping(ctx context.Context) error
	Close() error
}
