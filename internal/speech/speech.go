// Package speech defines the single-shot speech recognition capability used
// for voice input, and its implementations.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported means the environment has no recognizer.
	ErrUnsupported = errors.New("speech recognition not supported")
	// ErrInProgress is returned when a recognition is already waiting for a result.
	ErrInProgress = errors.New("speech recognition already in progress")
)

// Recognizer captures one utterance and returns the first alternative of its
// transcript.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Unsupported is a Recognizer for environments without speech input.
type Unsupported struct{}

// Recognize always fails with ErrUnsupported.
func (Unsupported) Recognize(context.Context) (string, error) {
	return "", ErrUnsupported
}
