package widget

import (
	"context"
	"time"

	"github.com/ashureev/chatwidget/internal/domain"
)

// runTurn performs the backend request for one send and then reveals the
// reply (or the fallback) one rune per tick. Any reset bumps e.gen, which
// makes every later step of this turn a no-op.
func (e *Engine) runTurn(ctx context.Context, gen uint64, text, model string) {
	defer e.wg.Done()

	start := time.Now()
	reply, err := e.backend.Chat(ctx, text, model)
	e.observer.BackendRequest(time.Since(start), err)

	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return
	}

	full := reply.Text
	sources := reply.Sources
	failed := err != nil
	if failed {
		e.logger.Warn("backend request failed", "model", model, "error", err)
		full = e.profile.FallbackReply
		sources = nil
	}

	e.messages = append(e.messages, domain.Message{
		From:      domain.SenderBot,
		Text:      e.profile.TypingPlaceholder,
		Timestamp: e.now(),
		Streaming: true,
	})
	e.phase = PhaseStreaming
	if failed {
		e.errText = e.profile.ErrorBanner
	}
	e.touchLocked()
	e.mu.Unlock()
	e.notify()

	e.reveal(ctx, gen, []rune(full), sources, failed, time.Now())
}

func (e *Engine) reveal(ctx context.Context, gen uint64, runes []rune, sources []domain.Source, failed bool, start time.Time) {
	ticker := time.NewTicker(e.revealInterval)
	defer ticker.Stop()

	shown := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		shown++
		e.mu.Lock()
		if e.closed || gen != e.gen {
			e.mu.Unlock()
			return
		}
		last := &e.messages[len(e.messages)-1]
		if last.From != domain.SenderBot || !last.Streaming {
			e.mu.Unlock()
			return
		}

		if shown >= len(runes) {
			last.Text = string(runes)
			last.Streaming = false
			last.Sources = sources
			last.Timestamp = e.now()
			e.phase = PhaseIdle
			if e.turnCancel != nil {
				e.turnCancel()
				e.turnCancel = nil
			}
			e.persistTranscriptLocked()
			e.touchLocked()
			e.mu.Unlock()

			e.observer.ReplyRevealed(failed, time.Since(start))
			e.notify()
			return
		}

		last.Text = string(runes[:shown])
		last.Sources = sources
		last.Timestamp = e.now()
		e.touchLocked()
		e.mu.Unlock()
		e.notify()
	}
}
