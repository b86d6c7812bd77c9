//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/chatwidget/internal/session"
	"github.com/ashureev/chatwidget/internal/widget"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "nope")

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "nope" {
		t.Errorf("Expected error=nope, got %v", got)
	}
}

func TestEngineError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantTag  string
	}{
		{widget.ErrEmptyMessage, http.StatusBadRequest, "empty_message"},
		{widget.ErrBusy, http.StatusConflict, "busy"},
		{session.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{fmt.Errorf("load: %w", widget.ErrClosed), http.StatusServiceUnavailable, "closed"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.wantTag, func(t *testing.T) {
			w := httptest.NewRecorder()
			EngineError(w, tt.err)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var got map[string]string
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got["code"] != tt.wantTag || got["error"] != tt.err.Error() {
				t.Errorf("unexpected body %v", got)
			}
		})
	}
}
