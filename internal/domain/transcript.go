package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Transcript is the ordered list of exchanged messages.
type Transcript []Message

// SeedTranscript returns a transcript holding only the greeting.
func SeedTranscript(greeting string, at time.Time) Transcript {
	return Transcript{{From: SenderBot, Text: greeting, Timestamp: at}}
}

// HasUserMessages reports whether the visitor has said anything yet.
func (t Transcript) HasUserMessages() bool {
	for _, m := range t {
		if m.IsUser() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so snapshots never alias engine state.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	for i, m := range t {
		if m.Sources != nil {
			m.Sources = append([]Source(nil), m.Sources...)
		}
		out[i] = m
	}
	return out
}

// Last returns the final message and false when the transcript is empty.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// MarshalTranscript encodes a transcript for storage.
func MarshalTranscript(t Transcript) (string, error) {
	if t == nil {
		t = Transcript{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	return string(data), nil
}

// UnmarshalTranscript decodes a stored transcript. Entries still marked as
// streaming belong to an interrupted reveal that no task will finish, so
// they are dropped.
func UnmarshalTranscript(raw string) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return t.Finalized(), nil
}

// Finalized returns the entries that are not being revealed.
func (t Transcript) Finalized() Transcript {
	out := make(Transcript, 0, len(t))
	for _, m := range t {
		if !m.Streaming {
			out = append(out, m)
		}
	}
	return out
}
