package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/rocky/internal/api"
	"github.com/go-chi/chi/v5"
)

const maxInboundBody = 64 << 10

// Limiter throttles inbound events per sender.
type Limiter interface {
	Allow(key string) bool
}

// Webhook accepts inbound events over plain HTTP.
type Webhook struct {
	sink    Sink
	limiter Limiter
	logger  *slog.Logger
}

// NewWebhook creates a webhook handler. limiter may be nil.
func NewWebhook(sink Sink, limiter Limiter, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{sink: sink, limiter: limiter, logger: logger}
}

// RegisterRoutes registers the webhook route.
func (h *Webhook) RegisterRoutes(r chi.Router) {
	r.Post("/api/inbound", h.Inbound)
}

// Inbound queues one event and answers 202 without waiting for the dialogue turn.
func (h *Webhook) Inbound(w http.ResponseWriter, r *http.Request) {
	var ev InboundEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInboundBody)).Decode(&ev); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg := ev.Message()
	if msg.IsGroup || msg.UserID == "" {
		api.JSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(msg.UserID) {
		w.Header().Set("Retry-After", "1")
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if err := h.sink(r.Context(), msg); err != nil {
		h.logger.Warn("Failed to queue inbound message", "user_id", msg.UserID, "error", err)
		api.Error(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	api.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
