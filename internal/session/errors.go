package session

import (
	"errors"
	"net/http"

	"github.com/ashureev/chatwidget/internal/speech"
	"github.com/ashureev/chatwidget/internal/widget"
)

// ErrRateLimited is returned when a visitor sends faster than allowed.
var ErrRateLimited = errors.New("too many messages, slow down")

// Classify maps an engine error to an HTTP status and a short code shared by
// the REST and websocket surfaces.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, widget.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, widget.ErrUnknownModel):
		return http.StatusBadRequest, "unknown_model"
	case errors.Is(err, widget.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, speech.ErrInProgress):
		return http.StatusConflict, "voice_in_progress"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, speech.ErrUnsupported):
		return http.StatusNotImplemented, "speech_unsupported"
	case errors.Is(err, widget.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
