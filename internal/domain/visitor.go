package domain

import (
	"time"
)

// Visitor is an anonymous browser profile talking to the widget.
type Visitor struct {
	VisitorID  string    `json:"visitor_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IdleFor returns how long the visitor has been inactive.
// Returns 0 if the visitor was seen in the future relative to now.
func (v *Visitor) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(v.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
