// Package api provides the operator HTTP API and the shared JSON helpers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/rocky/internal/domain"
	"github.com/ashureev/rocky/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxListLimit = 500

// Handler serves read-only operator endpoints over the repository.
type Handler struct {
	repo store.Repository
}

// NewHandler creates a new operator handler.
func NewHandler(repo store.Repository) *Handler {
	return &Handler{repo: repo}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers operator routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/profiles/{id}", h.GetProfile)
	r.Get("/api/consultations", h.ListConsultations)
}

type profileResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Document          string    `json:"document"`
	Affiliation       string    `json:"affiliation"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	Complete          bool      `json:"complete"`
}

type consultationResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// GetProfile returns the stored profile of one user.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	profile, err := h.repo.GetProfile(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get profile", "user_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}
	JSON(w, http.StatusOK, toProfileResponse(profile))
}

// ListConsultations returns the most recent consultations, newest first.
func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	list, err := h.repo.ListConsultations(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list consultations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list consultations")
		return
	}

	out := make([]consultationResponse, 0, len(list))
	for _, c := range list {
		out = append(out, consultationResponse{
			ID:        c.ID,
			UserID:    c.UserID,
			Reason:    c.Reason,
			CreatedAt: c.CreatedAt.UTC(),
		})
	}
	JSON(w, http.StatusOK, map[string]any{"consultations": out})
}

func toProfileResponse(p *domain.Profile) profileResponse {
	return profileResponse{
		ID:                p.ID,
		Name:              p.Name,
		Document:          p.Document,
		Affiliation:       p.Affiliation,
		LastInteractionAt: p.LastInteractionAt.UTC(),
		Complete:          p.IsComplete(),
	}
}
