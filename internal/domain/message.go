// Package domain contains core domain types for the chat widget.
package domain

import (
	"time"
)

// Sender tags who authored a message.
type Sender string

const (
	// SenderBot marks messages produced by the assistant.
	SenderBot Sender = "bot"
	// SenderUser marks messages typed or spoken by the visitor.
	SenderUser Sender = "user"
)

// Source is a citation attached to a bot reply.
type Source struct {
	URL string `json:"url"`
}

// Message is one transcript entry. The JSON shape matches what the widget
// stores under the chatHistory key.
type Message struct {
	From      Sender    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"streaming,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
}

// IsUser returns true if the visitor authored the message.
func (m Message) IsUser() bool {
	return m.From == SenderUser
}

// FirstSource returns the first citation URL, or "" when there is none.
func (m Message) FirstSource() string {
	if len(m.Sources) == 0 {
		return ""
	}
	return m.Sources[0].URL
}

// Notice is the dismissible banner shown after an inactivity reset.
type Notice struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// Model is one selectable backend model.
type Model struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
