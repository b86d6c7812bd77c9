package widget

import "time"

// Observer receives engine events for instrumentation. Implementations must
// be safe for concurrent use and must not call back into the engine.
type Observer interface {
	MessageSent()
	BackendRequest(d time.Duration, err error)
	ReplyRevealed(failed bool, d time.Duration)
	TurnAbandoned()
	InactivityReset()
	VoiceAttempt(err error)
}

type nopObserver struct{}

func (nopObserver) MessageSent() {}
func (nopObserver) BackendRequest(time.Duration, error) {}
func (nopObserver) ReplyRevealed(bool, time.Duration) {}
func (nopObserver) TurnAbandoned() {}
func (nopObserver) InactivityReset() {}
func (nopObserver) VoiceAttempt(error) {}
