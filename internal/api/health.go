package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/rocky/internal/store"
	"github.com/go-chi/chi/v5"
)

// ConnectionChecker reports transport connectivity.
type ConnectionChecker interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	bridge  ConnectionChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. bridge may be nil.
func NewHealthHandler(repo store.Repository, bridge ConnectionChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, bridge: bridge, timeout: timeout}
}

// Check pings the database. A disconnected bridge degrades but does not fail.
func (h *HealthHandler) Check(ctx context.Context) (status string, checks map[string]string, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status = "healthy"
	checks = map[string]string{"api": "ok"}

	if err = h.repo.Ping(ctx); err != nil {
		status = "unhealthy"
		checks["database"] = "unreachable"
	} else {
		checks["database"] = "ok"
	}

	if h.bridge != nil {
		if h.bridge.Connected() {
			checks["bridge"] = "connected"
		} else {
			checks["bridge"] = "disconnected"
			if err == nil {
				status = "degraded"
			}
		}
	}
	return status, checks, err
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, checks, err := h.Check(r.Context())
	statusCode := http.StatusOK
	if err != nil {
		slog.Error("Health check failed", "error", err)
		statusCode = http.StatusServiceUnavailable
	}
	JSON(w, statusCode, map[string]any{"status": status, "checks": checks})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
