package domain

import (
	"time"
)

// State is a step of the intake dialogue.
type State string

const (
	StateNew                  State = "new"
	StateAwaitingName         State = "awaiting_name"
	StateAwaitingDocument     State = "awaiting_document"
	StateAwaitingAffiliation  State = "awaiting_affiliation"
	StateAwaitingReason       State = "awaiting_reason"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// Draft holds fields collected during the current flow that have not been
// committed to the profile yet. Only used with deferred persistence.
type Draft struct {
	Name        string
	Document    string
	Affiliation string
}

// Patch converts the non-empty draft fields to a profile patch.
func (d Draft) Patch() ProfilePatch {
	var p ProfilePatch
	if d.Name != "" {
		name := d.Name
		p.Name = &name
	}
	if d.Document != "" {
		doc := d.Document
		p.Document = &doc
	}
	if d.Affiliation != "" {
		aff := d.Affiliation
		p.Affiliation = &aff
	}
	return p
}

// Session is the in-memory state of an intake flow in progress.
type Session struct {
	UserID    string
	State     State
	Draft     Draft
	UpdatedAt time.Time
}
