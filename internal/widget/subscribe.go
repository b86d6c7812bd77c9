package widget

import "sync"

type subscriber struct {
	ch   chan State
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe returns a channel that receives the current state immediately
// and then the latest state after every change. Slow readers only ever see
// the newest snapshot. The channel is closed by the returned cancel func or
// by Close.
func (e *Engine) Subscribe() (<-chan State, func()) {
	sub := &subscriber{ch: make(chan State, 1)}

	e.subMu.Lock()
	e.mu.Lock()
	closed := e.closed
	st := e.stateLocked()
	e.mu.Unlock()
	if closed {
		e.subMu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	sub.ch <- st
	e.subs[sub] = struct{}{}
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, sub)
		e.subMu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (e *Engine) Subscribers() int {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	return len(e.subs)
}

// notify pushes the current snapshot to every subscriber. It must be called
// without e.mu held.
func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	st := e.State()
	if st.Version <= e.lastNotified {
		return
	}
	e.lastNotified = st.Version

	for sub := range e.subs {
		select {
		case sub.ch <- st:
		default:
			// drop the stale snapshot in favor of the new one
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- st:
			default:
			}
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for sub := range e.subs {
		sub.close()
		delete(e.subs, sub)
	}
}
