package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// SendLimiter is a per-visitor token bucket for chat sends. Entries unused
// for longer than the window are dropped by Prune.
type SendLimiter struct {
	mu     sync.Mutex
	m      map[string]*limiterEntry
	limit  rate.Limit
	burst  int
	window time.Duration
}

// NewSendLimiter allows requests sends per window with a burst of requests.
// Zero requests (SEND_RATE_LIMIT=0) disables limiting.
func NewSendLimiter(requests int, window time.Duration) *SendLimiter {
	if window <= 0 {
		window = time.Minute
	}
	limit := rate.Inf
	if requests > 0 {
		limit = rate.Limit(float64(requests) / window.Seconds())
	}
	return &SendLimiter{
		m:      make(map[string]*limiterEntry),
		limit:  limit,
		burst:  max(requests, 1),
		window: window,
	}
}

// Allow reports whether visitorID may send now.
func (p *SendLimiter) Allow(visitorID string) bool {
	p.mu.Lock()
	e, ok := p.m[visitorID]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.limit, p.burst)}
		p.m[visitorID] = e
	}
	e.lastSeen = time.Now()
	l := e.l
	p.mu.Unlock()
	return l.Allow()
}

// Prune drops limiters idle for longer than the window and returns how many
// remain.
func (p *SendLimiter) Prune() int {
	cutoff := time.Now().Add(-p.window)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	return len(p.m)
}
