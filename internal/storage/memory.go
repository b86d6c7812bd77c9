package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Storage. The zero value is ready to use.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns an empty in-memory storage.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

// GetItem implements Storage.
func (m *Memory) GetItem(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// SetItem implements Storage.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

// RemoveItem implements Storage.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// MemoryProvider keeps one Memory per visitor for the life of the process.
type MemoryProvider struct {
	mu       sync.Mutex
	visitors map[string]*Memory
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{visitors: make(map[string]*Memory)}
}

// ForVisitor implements Provider.
func (p *MemoryProvider) ForVisitor(visitorID string) Storage {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.visitors[visitorID]
	if !ok {
		m = NewMemory()
		p.visitors[visitorID] = m
	}
	return m
}

// Ping implements Provider.
func (p *MemoryProvider) Ping(context.Context) error { return nil }

// Close implements Provider.
func (p *MemoryProvider) Close() error { return nil }
