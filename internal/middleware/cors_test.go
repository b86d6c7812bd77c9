package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCreds   string
		wantHeaders string
	}{
		{
			name:        "explicit origin",
			allowed:     []string{"https://shop.example"},
			origin:      "https://shop.example",
			method:      http.MethodGet,
			wantStatus:  http.StatusTeapot,
			wantOrigin:  "https://shop.example",
			wantCreds:   "true",
			wantHeaders: "Content-Type, X-Widget-Tab-ID",
		},
		{
			name:        "wildcard has no credentials",
			allowed:     []string{"*"},
			origin:      "https://other.example",
			method:      http.MethodGet,
			wantStatus:  http.StatusTeapot,
			wantOrigin:  "https://other.example",
			wantHeaders: "Content-Type, X-Widget-Tab-ID",
		},
		{
			name:       "unknown origin",
			allowed:    []string{"https://shop.example"},
			origin:     "https://evil.example",
			method:     http.MethodGet,
			wantStatus: http.StatusTeapot,
		},
		{
			name:        "preflight",
			allowed:     []string{"https://shop.example"},
			origin:      "https://shop.example",
			method:      http.MethodOptions,
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "https://shop.example",
			wantCreds:   "true",
			wantHeaders: "Content-Type, X-Widget-Tab-ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.allowed, "X-Widget-Tab-ID")(next)
			req := httptest.NewRequest(tt.method, "/api/widget", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("allow-origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("allow-credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != tt.wantHeaders {
				t.Errorf("allow-headers = %q, want %q", got, tt.wantHeaders)
			}
		})
	}
}
