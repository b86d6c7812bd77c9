package widget

import "fmt"

// Phase is the engine's position in a conversation turn.
//
//	idle -> sending -> streaming -> idle
//
// Clear, the inactivity reset and Close return any phase to idle.
type Phase int

const (
	// PhaseIdle accepts a new send.
	PhaseIdle Phase = iota
	// PhaseSending means the backend request is in flight.
	PhaseSending
	// PhaseStreaming means the reply is being revealed.
	PhaseStreaming
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = PhaseIdle
	case "sending":
		*p = PhaseSending
	case "streaming":
		*p = PhaseStreaming
	default:
		return fmt.Errorf("unknown phase %q", string(b))
	}
	return nil
}
