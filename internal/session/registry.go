// Package session hosts one widget engine per visitor and connects browsers
// to it.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/widget"
)

// Factory builds the engine for a visitor around the given recognizer.
type Factory func(ctx context.Context, visitorID string, rec speech.Recognizer) (*widget.Engine, error)

// Hooks receives registry gauges. metrics.Collector implements it.
type Hooks interface {
	SetActiveEngines(n int)
	AddSubscribers(delta int)
	EnginesReaped(n int)
}

type nopHooks struct{}

func (nopHooks) SetActiveEngines(int) {}
func (nopHooks) AddSubscribers(int) {}
func (nopHooks) EnginesReaped(int) {}

// Session is a visitor's engine plus the relay its browsers answer voice
// requests through.
type Session struct {
	VisitorID string
	Engine    *widget.Engine
	Relay     *speech.Relay
}

type entry struct {
	session     *Session
	subscribers int
	lastSeen    time.Time
}

// Registry tracks live engines. All tabs of one visitor share an engine.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	hooks   Hooks
	now     func() time.Time
	closed  bool
}

// NewRegistry creates a registry. hooks may be nil.
func NewRegistry(factory Factory, hooks Hooks) *Registry {
	if hooks == nil {
		hooks = nopHooks{}
	}
	return &Registry{
		entries: make(map[string]*entry),
		factory: factory,
		hooks:   hooks,
		now:     time.Now,
	}
}

// Get returns the visitor's session, creating it on first use.
func (r *Registry) Get(ctx context.Context, visitorID string) (*Session, error) {
	e, err := r.lookup(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// Acquire returns the visitor's session and counts the caller as a
// subscriber until release is called. Subscribed sessions are never reaped.
func (r *Registry) Acquire(ctx context.Context, visitorID string) (*Session, func(), error) {
	e, err := r.lookup(ctx, visitorID)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	e.subscribers++
	r.mu.Unlock()
	r.hooks.AddSubscribers(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			e.subscribers--
			e.lastSeen = r.now()
			r.mu.Unlock()
			r.hooks.AddSubscribers(-1)
		})
	}
	return e.session, release, nil
}

func (r *Registry) lookup(ctx context.Context, visitorID string) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, widget.ErrClosed
	}
	if e, ok := r.entries[visitorID]; ok {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	relay := speech.NewRelay(false)
	engine, err := r.factory(ctx, visitorID, relay)
	if err != nil {
		return nil, fmt.Errorf("create engine for %s: %w", visitorID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = engine.Close()
		return nil, widget.ErrClosed
	}
	if existing, ok := r.entries[visitorID]; ok {
		// lost the race with a concurrent creator
		existing.lastSeen = r.now()
		r.mu.Unlock()
		_ = engine.Close()
		return existing, nil
	}
	e := &entry{
		session:  &Session{VisitorID: visitorID, Engine: engine, Relay: relay},
		lastSeen: r.now(),
	}
	r.entries[visitorID] = e
	n := len(r.entries)
	r.mu.Unlock()

	r.hooks.SetActiveEngines(n)
	slog.Info("Widget engine created", "visitor_id", visitorID, "active", n)
	return e, nil
}

// Touch marks the visitor's session as used.
func (r *Registry) Touch(visitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[visitorID]; ok {
		e.lastSeen = r.now()
	}
}

// Subscribers returns how many connections hold the visitor's session.
func (r *Registry) Subscribers(visitorID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[visitorID]; ok {
		return e.subscribers
	}
	return 0
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reap closes engines that have no subscribers and have not been used for
// longer than idle. Their state is already persisted, so the next request
// rebuilds them from storage.
func (r *Registry) Reap(idle time.Duration) int {
	now := r.now()
	var victims []*Session

	r.mu.Lock()
	for id, e := range r.entries {
		if e.subscribers > 0 || now.Sub(e.lastSeen) < idle {
			continue
		}
		victims = append(victims, e.session)
		delete(r.entries, id)
	}
	n := len(r.entries)
	r.mu.Unlock()

	for _, s := range victims {
		if err := s.Engine.Close(); err != nil {
			slog.Warn("Failed to close reaped engine", "visitor_id", s.VisitorID, "error", err)
		}
		slog.Debug("Widget engine reaped", "visitor_id", s.VisitorID)
	}
	if len(victims) > 0 {
		r.hooks.SetActiveEngines(n)
		r.hooks.EnginesReaped(len(victims))
	}
	return len(victims)
}

// Close closes every engine and rejects further lookups.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.entries))
	for id, e := range r.entries {
		sessions = append(sessions, e.session)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Engine.Close()
	}
	r.hooks.SetActiveEngines(0)
	slog.Info("Widget engines closed", "count", len(sessions))
}
