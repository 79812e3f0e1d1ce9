package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartTTLWorker looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// CleanupCallback is called for every session removed by the TTL worker.
type CleanupCallback func(sessionID string)

// StartTTLWorker runs a background goroutine that periodically removes
// sessions idle for longer than ttl.
func StartTTLWorker(ctx context.Context, store Store, ttl, interval time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, store, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, store Store, ttl time.Duration, onCleanup CleanupCallback) int {
	ids, err := store.CleanupExpired(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to clean up expired sessions", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	if onCleanup != nil {
		for _, id := range ids {
			onCleanup(id)
		}
	}
	slog.Info("TTL worker cleanup completed", "cleaned", len(ids))
	return len(ids)
}
