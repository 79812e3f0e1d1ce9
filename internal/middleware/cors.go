// Package middleware provides HTTP middleware for the chat server.
package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// AllowedOrigins returns the origins permitted to call the API. The page is
// normally served by this server itself; a separate frontend origin is only
// needed when the page is hosted elsewhere. Development allows any origin.
func AllowedOrigins(frontendURL string, isDev bool) []string {
	if isDev {
		return []string{"*"}
	}
	origin := strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if origin == "" {
		return nil
	}
	return []string{origin}
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			if origin != "" && (wildcard || explicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
				// The session cookie only travels to explicitly listed origins.
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
