// Package middleware provides HTTP middleware for the widget server.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"time"
)

// preflightMaxAge is how long browsers may cache a preflight answer.
const preflightMaxAge = 10 * time.Minute

// CORS returns middleware that lets host pages on allowedOrigins call the
// widget API. The tab header must be allowed for multi-tab sessions.
func CORS(allowedOrigins []string, tabHeader string) func(http.Handler) http.Handler {
	allowHeaders := "Content-Type"
	if tabHeader != "" {
		allowHeaders += ", " + tabHeader
	}
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			explicit := origin != "" && slices.Contains(allowedOrigins, origin)
			if origin != "" && (explicit || wildcard) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(preflightMaxAge.Seconds())))
				// Credentials only for explicit origins; a wildcard-echoed origin would enable CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
