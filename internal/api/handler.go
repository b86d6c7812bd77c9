// Package api provides HTTP handlers for the chat widget API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/chatwidget/internal/session"
	"github.com/ashureev/chatwidget/internal/storage"
)

// Handler provides common handler utilities.
type Handler struct {
	registry *session.Registry
	provider storage.Provider
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry, provider storage.Provider) *Handler {
	return &Handler{
		registry: registry,
		provider: provider,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// EngineError writes the JSON error matching an engine or session error.
func EngineError(w http.ResponseWriter, err error) {
	status, code := session.Classify(err)
	JSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
