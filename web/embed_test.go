package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler(t *testing.T) {
	h := Handler()

	tests := []struct {
		path     string
		contains string
		noCache  bool
	}{
		{path: "/", contains: "widget.js"},
		{path: "/widget.js", contains: "/ws/widget", noCache: true},
		{path: "/some/deep/link", contains: "widget.js"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("body of %s does not mention %q", tt.path, tt.contains)
			}
			if got := w.Header().Get("Cache-Control") == "no-cache"; got != tt.noCache {
				t.Errorf("no-cache = %v, want %v", got, tt.noCache)
			}
		})
	}
}
