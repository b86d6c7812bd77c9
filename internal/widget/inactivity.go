package widget

import (
	"context"
	"time"

	"github.com/ashureev/chatwidget/internal/domain"
	"github.com/ashureev/chatwidget/internal/storage"
)

// resetInactivityLocked re-arms the single inactivity timer.
func (e *Engine) resetInactivityLocked() {
	e.stopInactivityLocked()
	seq := e.inactivitySeq
	e.inactivity = time.AfterFunc(e.inactivityWindow, func() {
		e.onInactivity(seq)
	})
}

func (e *Engine) stopInactivityLocked() {
	e.inactivitySeq++
	if e.inactivity != nil {
		e.inactivity.Stop()
		e.inactivity = nil
	}
}

// onInactivity resets a transcript that holds user messages and shows the
// inactivity notice. seq guards against a timer that fired while being
// replaced.
func (e *Engine) onInactivity(seq uint64) {
	e.mu.Lock()
	if e.closed || seq != e.inactivitySeq {
		e.mu.Unlock()
		return
	}
	e.inactivity = nil
	if !e.messages.HasUserMessages() {
		e.mu.Unlock()
		return
	}

	if e.cancelTurnLocked() {
		e.observer.TurnAbandoned()
	}
	now := e.now()
	e.messages = domain.SeedTranscript(e.profile.Greeting, now)
	e.errText = ""

	id := now.UnixMilli()
	if id <= e.lastNoticeID {
		id = e.lastNoticeID + 1
	}
	e.lastNoticeID = id
	e.notice = &domain.Notice{ID: id, Text: e.profile.InactivityNotice}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	if err := e.storage.RemoveItem(ctx, storage.KeyChatHistory); err != nil {
		e.logger.Warn("failed to remove stored transcript", "error", err)
	}
	cancel()
	e.touchLocked()
	e.mu.Unlock()

	e.logger.Info("transcript cleared after inactivity", "window", e.inactivityWindow)
	e.observer.InactivityReset()
	e.notify()
}
