package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is anything whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its session store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["session_store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["session_store"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
