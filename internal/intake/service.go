// Package intake implements the per-user intake dialogue: input validation,
// session staleness reconciliation and the conversation state machine.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ashureev/rocky/internal/domain"
	"github.com/ashureev/rocky/internal/session"
	"github.com/ashureev/rocky/internal/store"
	"github.com/google/uuid"
)

// Failure categories surfaced by HandleMessage. None of them is fatal to the caller.
var (
	ErrStorage    = errors.New("storage failure")
	ErrDispatch   = errors.New("dispatch failure")
	ErrUnexpected = errors.New("unexpected failure")
)

// Message is an inbound chat message after transport normalization.
type Message struct {
	UserID  string
	Text    string
	IsGroup bool
}

// Dispatcher delivers outbound text to a user.
type Dispatcher interface {
	Send(ctx context.Context, targetID, text string) error
}

// Transcript records conversation texts for operators. Implementations must not block.
type Transcript interface {
	Record(userID, direction, text string)
}

// Service runs one dialogue turn per inbound message. Turns for the same user
// id are serialized; turns for different ids run in parallel.
type Service struct {
	repo       store.Repository
	sessions   *session.Store
	dispatcher Dispatcher
	machine    *Machine
	opts       Options
	locks      *keyedMutex
	transcript Transcript
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a new intake service.
func NewService(repo store.Repository, sessions *session.Store, dispatcher Dispatcher, opts Options, logger *slog.Logger) (*Service, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid intake options: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		sessions:   sessions,
		dispatcher: dispatcher,
		machine:    NewMachine(opts),
		opts:       opts,
		locks:      newKeyedMutex(),
		now:        time.Now,
		logger:     logger,
	}, nil
}

// SetTranscript attaches a transcript recorder.
func (s *Service) SetTranscript(t Transcript) {
	s.transcript = t
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// HandleMessage runs the read-reconcile-transition-write-send sequence for one
// message. Group messages are ignored. Failures are answered with a fixed
// message to the user and returned for logging; they never panic.
func (s *Service) HandleMessage(ctx context.Context, msg Message) (err error) {
	if msg.IsGroup || msg.UserID == "" {
		return nil
	}

	unlock := s.locks.Lock(msg.UserID)
	defer unlock()

	userID := msg.UserID
	log := s.logger.With("user_id", userID, "turn_id", uuid.NewString())

	defer func() {
		if r := recover(); r != nil {
			log.Error("Unexpected failure handling message", "panic", r, "stack", string(debug.Stack()))
			s.send(ctx, log, userID, s.opts.Messages.GenericError)
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
	}()

	s.record(userID, "inbound", msg.Text)
	now := s.now()

	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return s.storageFailure(ctx, log, userID, "get profile", err)
	}

	newSession := IsStale(profile, now, s.opts.IdleThreshold)
	var current *domain.Session
	if newSession {
		s.sessions.Clear(userID)
	} else if sess, ok := s.sessions.Get(userID); ok {
		current = &sess
	}

	if err := s.repo.TouchProfile(ctx, userID, now); err != nil {
		return s.storageFailure(ctx, log, userID, "touch profile", err)
	}

	snapshot := domain.Profile{ID: userID}
	if profile != nil {
		snapshot = *profile
	}
	snapshot.LastInteractionAt = now

	tr := s.machine.Step(Turn{
		UserID:     userID,
		Text:       msg.Text,
		Now:        now,
		Profile:    snapshot,
		Session:    current,
		NewSession: newSession,
	})
	log.Debug("Intake step",
		"from", stateOf(current),
		"new_session", newSession,
		"transition", tr.String(),
	)

	if err := s.apply(ctx, userID, tr); err != nil {
		return s.storageFailure(ctx, log, userID, "apply transition", err)
	}

	if tr.Session == nil {
		s.sessions.Clear(userID)
	} else {
		s.sessions.Set(userID, *tr.Session)
	}
	if tr.Consultation != nil {
		log.Info("Consultation recorded", "consultation_id", tr.Consultation.ID)
	}

	// A failed reply does not stop the ones after it.
	var sendErrs []error
	for _, text := range tr.Replies {
		if err := s.send(ctx, log, userID, text); err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	return errors.Join(sendErrs...)
}

// EvictIdle drops in-memory sessions that have not advanced within the idle
// threshold and returns the evicted user ids. Each eviction holds the user's
// turn lock, so a session a running turn is about to write is never removed
// underneath it.
func (s *Service) EvictIdle(now time.Time) []string {
	var evicted []string
	for _, userID := range s.sessions.IdleIDs(now, s.opts.IdleThreshold) {
		unlock := s.locks.Lock(userID)
		if s.sessions.ClearIfIdle(userID, now, s.opts.IdleThreshold) {
			evicted = append(evicted, userID)
		}
		unlock()
	}
	return evicted
}

// apply performs the repository side effects of a transition.
func (s *Service) apply(ctx context.Context, userID string, tr Transition) error {
	if tr.ResetProfile {
		if err := s.repo.ResetProfile(ctx, userID); err != nil {
			return err
		}
	}
	if tr.Consultation != nil {
		return s.repo.CommitIntake(ctx, userID, tr.Patch, tr.Consultation)
	}
	if !tr.Patch.IsEmpty() {
		return s.repo.UpdateProfile(ctx, userID, tr.Patch)
	}
	return nil
}

func (s *Service) storageFailure(ctx context.Context, log *slog.Logger, userID, op string, err error) error {
	log.Error("Storage failure", "op", op, "error", err)
	_ = s.send(ctx, log, userID, s.opts.Messages.StorageError)
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func (s *Service) send(ctx context.Context, log *slog.Logger, userID, text string) error {
	if err := s.dispatcher.Send(ctx, userID, text); err != nil {
		log.Warn("Failed to dispatch reply", "error", err)
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	s.record(userID, "outbound", text)
	return nil
}

func (s *Service) record(userID, direction, text string) {
	if s.transcript != nil {
		s.transcript.Record(userID, direction, text)
	}
}

func stateOf(sess *domain.Session) string {
	if sess == nil {
		return string(domain.StateNew)
	}
	return string(sess.State)
}
