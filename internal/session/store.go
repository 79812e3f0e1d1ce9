// Package session stores chat state per browser session.
package session

import (
	"context"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
)

// Store persists chat session state between interactions of one browser
// session.
type Store interface {
	// Get retrieves a session by ID. It returns nil, nil when none exists.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Put creates or replaces a session.
	Put(ctx context.Context, s *domain.Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// CleanupExpired removes sessions not updated within ttl and returns
	// their IDs.
	CleanupExpired(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
