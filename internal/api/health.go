package api

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler reports process and storage status.
type HealthHandler struct {
	*Handler
	version string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(base *Handler, version string) *HealthHandler {
	return &HealthHandler{Handler: base, version: version}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{
		"status":  "OK",
		"version": h.version,
		"storage": "ok",
		"engines": h.registry.Len(),
	}
	if err := h.provider.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["storage"] = err.Error()
		JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	JSON(w, http.StatusOK, resp)
}
