// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

// Repository defines the interface for persisting profiles and consultations.
// Writes for one user id never touch rows of another id.
type Repository interface {
	// GetProfile retrieves a profile by user id. Returns nil, nil when absent.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// TouchProfile sets last_interaction_at, creating an empty profile row if needed.
	TouchProfile(ctx context.Context, userID string, at time.Time) error

	// UpdateProfile merges the non-nil patch fields into the profile.
	// Fields absent from the patch are never nulled out.
	UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error

	// ResetProfile clears name, document and affiliation for an explicit flow restart.
	ResetProfile(ctx context.Context, userID string) error

	// AppendConsultation inserts a consultation record and sets its ID.
	AppendConsultation(ctx context.Context, c *domain.Consultation) error

	// CommitIntake merges patch and appends c in a single transaction.
	CommitIntake(ctx context.Context, userID string, patch domain.ProfilePatch, c *domain.Consultation) error

	// ListConsultations returns the most recent consultations, newest first.
	ListConsultations(ctx context.Context, limit int) ([]*domain.Consultation, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
