package speech

import (
	"context"
	"errors"
	"sync"
)

type result struct {
	text string
	err  error
}

// Relay is a Recognizer whose results are produced elsewhere, typically by a
// browser on the other end of a websocket, and handed in through Deliver.
// It starts out unsupported until a client reports the capability.
type Relay struct {
	mu        sync.Mutex
	supported bool
	pending   chan result
}

// NewRelay creates a relay with the given initial capability.
func NewRelay(supported bool) *Relay {
	return &Relay{supported: supported}
}

// SetSupported records whether the connected client can recognize speech.
func (r *Relay) SetSupported(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supported = ok
}

// Supported reports the last capability set.
func (r *Relay) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supported
}

// Recognize waits for the next delivered result.
func (r *Relay) Recognize(ctx context.Context) (string, error) {
	r.mu.Lock()
	if !r.supported {
		r.mu.Unlock()
		return "", ErrUnsupported
	}
	if r.pending != nil {
		r.mu.Unlock()
		return "", ErrInProgress
	}
	ch := make(chan result, 1)
	r.pending = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending == ch {
			r.pending = nil
		}
		r.mu.Unlock()
	}()

	select {
	case res := <-ch:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Deliver hands a recognition outcome to the waiting Recognize call. It
// reports false when nothing is waiting.
func (r *Relay) Deliver(text string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return false
	}
	r.pending <- result{text: text, err: err}
	r.pending = nil
	return true
}

// Fail delivers a client-side recognition error message.
func (r *Relay) Fail(msg string) bool {
	if msg == "" {
		msg = "unknown"
	}
	return r.Deliver("", errors.New(msg))
}
