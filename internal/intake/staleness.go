package intake

import (
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

// DefaultIdleThreshold is how long a user may stay silent before the next
// message restarts intake.
const DefaultIdleThreshold = 2 * time.Minute

// IsStale decides whether an inbound message at now starts a new session.
// A missing profile always does; otherwise the session is stale once more than
// idle has elapsed since the last recorded interaction. The persisted profile
// is the only input: in-memory session content never overrides it.
func IsStale(profile *domain.Profile, now time.Time, idle time.Duration) bool {
	if profile == nil {
		return true
	}
	return now.Sub(profile.LastInteractionAt) > idle
}
