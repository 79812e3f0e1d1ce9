// Package identity assigns each browser an anonymous chat session ID.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	// SessionCookieName holds the browser's chat session ID.
	SessionCookieName   = "etna_chat_sid"
	sessionCookieMaxAge = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^sess_[a-f0-9]{32}$`)

// SessionIDFromContext extracts the chat session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying the given session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func generateSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf), nil
}

// IsValidSessionID reports whether id has the shape of a generated session ID.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(SessionCookieName); err == nil && IsValidSessionID(c.Value) {
		id = c.Value
	} else {
		id, err = generateSessionID()
		if err != nil {
			return "", err
		}
	}

	// Refresh the cookie on every request so an active chat never expires
	// client-side.
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware injects the browser's chat session ID into the request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := getOrCreateSessionID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish chat session"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
