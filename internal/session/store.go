// Package session keeps in-progress intake dialogues in process memory.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

// Store maps user ids to their in-progress session. It has no expiry of its own
// and does not make read-modify-write sequences atomic; callers serialize per id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
	}
}

// Get returns a copy of the session for userID, if any.
func (s *Store) Get(userID string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Set replaces the session for userID.
func (s *Store) Set(userID string, sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UserID = userID
	s.sessions[userID] = sess
}

// Clear removes the session for userID. Clearing a missing session is a no-op.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID]; ok {
		delete(s.sessions, userID)
		slog.Debug("Intake session cleared", "user_id", userID)
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IdleIDs returns the user ids whose session UpdatedAt is older than now-idle.
func (s *Store) IdleIDs(now time.Time, idle time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-idle)
	var ids []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClearIfIdle removes the session for userID only if it is still older than
// now-idle, and reports whether it did.
func (s *Store) ClearIfIdle(userID string, now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || !sess.UpdatedAt.Before(now.Add(-idle)) {
		return false
	}
	delete(s.sessions, userID)
	return true
}
