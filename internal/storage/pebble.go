package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// PebbleProvider keeps every visitor's items in one Pebble database under
// the key layout visitor:<visitorID>:item:<key>.
type PebbleProvider struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

// OpenPebble opens (or creates) a Pebble database at path.
func OpenPebble(path string) (*PebbleProvider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create pebble directory: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	slog.Info("Pebble storage opened", "path", path)
	return &PebbleProvider{db: db, path: path}, nil
}

// ForVisitor implements Provider.
func (p *PebbleProvider) ForVisitor(visitorID string) Storage {
	return &pebbleStorage{p: p, prefix: "visitor:" + visitorID + ":item:"}
}

// Ping implements Provider.
func (p *PebbleProvider) Ping(context.Context) error {
	if p.closed.Load() {
		return errors.New("pebble storage closed")
	}
	return nil
}

// Close implements Provider.
func (p *PebbleProvider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	slog.Info("Pebble storage closed", "path", p.path)
	return nil
}

type pebbleStorage struct {
	p      *PebbleProvider
	prefix string
}

func (s *pebbleStorage) key(k string) []byte {
	return []byte(s.prefix + k)
}

func (s *pebbleStorage) GetItem(_ context.Context, key string) (string, error) {
	value, closer, err := s.p.db.Get(s.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pebble get %s: %w", key, err)
	}
	out := string(value)
	if err := closer.Close(); err != nil {
		slog.Debug("failed to release pebble value", "key", key, "error", err)
	}
	return out, nil
}

func (s *pebbleStorage) SetItem(_ context.Context, key, value string) error {
	if err := s.p.db.Set(s.key(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (s *pebbleStorage) RemoveItem(_ context.Context, key string) error {
	if err := s.p.db.Delete(s.key(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}
