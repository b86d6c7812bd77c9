package storage

import (
	"context"
	"errors"

	"github.com/ashureev/chatwidget/internal/store"
)

// RepositoryProvider stores widget items in the visitor repository.
type RepositoryProvider struct {
	repo store.Repository
}

// NewRepositoryProvider wraps repo. Close does not close repo; the caller owns it.
func NewRepositoryProvider(repo store.Repository) *RepositoryProvider {
	return &RepositoryProvider{repo: repo}
}

// ForVisitor implements Provider.
func (p *RepositoryProvider) ForVisitor(visitorID string) Storage {
	return &repositoryStorage{repo: p.repo, visitorID: visitorID}
}

// Ping implements Provider.
func (p *RepositoryProvider) Ping(ctx context.Context) error {
	return p.repo.Ping(ctx)
}

// Close implements Provider.
func (p *RepositoryProvider) Close() error { return nil }

type repositoryStorage struct {
	repo      store.Repository
	visitorID string
}

func (s *repositoryStorage) GetItem(ctx context.Context, key string) (string, error) {
	v, err := s.repo.GetItem(ctx, s.visitorID, key)
	if errors.Is(err, store.ErrItemNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *repositoryStorage) SetItem(ctx context.Context, key, value string) error {
	return s.repo.SetItem(ctx, s.visitorID, key, value)
}

func (s *repositoryStorage) RemoveItem(ctx context.Context, key string) error {
	return s.repo.RemoveItem(ctx, s.visitorID, key)
}
