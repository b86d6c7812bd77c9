package speech

import (
	"context"
	"sync"
)

// Scripted replays a fixed sequence of outcomes, then reports ErrUnsupported.
type Scripted struct {
	mu      sync.Mutex
	results []result
	calls   int
}

// NewScripted creates an empty script.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Say queues a successful recognition.
func (s *Scripted) Say(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result{text: text})
	return s
}

// Fail queues a recognition error.
func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result{err: err})
	return s
}

// Calls returns how many times Recognize ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Recognize pops the next queued outcome.
func (s *Scripted) Recognize(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return "", ErrUnsupported
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.text, next.err
}
