// Package domain contains core domain types for the intake agent.
package domain

import (
	"time"
)

// Profile is the persisted record of a chat user, keyed by channel identity.
type Profile struct {
	ID                string    `json:"id"`
	Name              string    `json:"name,omitempty"`
	Document          string    `json:"document,omitempty"`
	Affiliation       string    `json:"affiliation,omitempty"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// HasIdentity returns true once both name and document have been collected.
func (p *Profile) HasIdentity() bool {
	return p != nil && p.Name != "" && p.Document != ""
}

// IsComplete returns true when every intake field is set.
func (p *Profile) IsComplete() bool {
	return p.HasIdentity() && p.Affiliation != ""
}

// ProfilePatch carries the fields to merge into a profile.
// Nil fields are left untouched by the repository.
type ProfilePatch struct {
	Name        *string
	Document    *string
	Affiliation *string
}

// IsEmpty reports whether the patch carries no field.
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.Document == nil && p.Affiliation == nil
}

// Apply returns a copy of profile with the patch fields applied.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.Name != nil {
		profile.Name = *p.Name
	}
	if p.Document != nil {
		profile.Document = *p.Document
	}
	if p.Affiliation != nil {
		profile.Affiliation = *p.Affiliation
	}
	return profile
}

// Consultation is an append-only record of a reason a user reached out for.
type Consultation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
