package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

// PersistencePolicy decides when collected fields reach the repository.
type PersistencePolicy string

const (
	// PersistIncremental writes each validated field as soon as it is collected.
	PersistIncremental PersistencePolicy = "incremental"
	// PersistDeferred keeps fields in the session draft and commits them,
	// together with the consultation, in a single transaction.
	PersistDeferred PersistencePolicy = "deferred"
)

// ConfirmationMode decides what a "yes" to the stored-profile summary does.
type ConfirmationMode string

const (
	// ConfirmThenReason asks for a consultation reason after confirmation.
	ConfirmThenReason ConfirmationMode = "reason"
	// ConfirmThenFinish ends the flow right after confirmation.
	ConfirmThenFinish ConfirmationMode = "finish"
)

// RestartPolicy decides what a "no" to the stored-profile summary does with
// the persisted identity fields.
type RestartPolicy string

const (
	// RestartRetain keeps persisted fields until they are collected again.
	RestartRetain RestartPolicy = "retain"
	// RestartDiscard clears name, document and affiliation immediately.
	RestartDiscard RestartPolicy = "discard"
)

// Options configures the dialogue.
type Options struct {
	Persistence   PersistencePolicy
	Confirmation  ConfirmationMode
	Restart       RestartPolicy
	Document      DocumentPolicy
	Labels        AffiliationLabels
	IdleThreshold time.Duration
	Messages      Messages
}

// DefaultOptions returns the default dialogue configuration.
func DefaultOptions() Options {
	return Options{
		Persistence:   PersistIncremental,
		Confirmation:  ConfirmThenReason,
		Restart:       RestartRetain,
		Document:      DocumentPolicy{Digits: DigitPolicyReject, MinDigits: 7, MaxDigits: 8},
		Labels:        DefaultAffiliationLabels(),
		IdleThreshold: DefaultIdleThreshold,
		Messages:      DefaultMessages("Rocky", "the organization"),
	}
}

// Validate checks that every enum option holds a known value.
func (o Options) Validate() error {
	switch o.Persistence {
	case PersistIncremental, PersistDeferred:
	default:
		return fmt.Errorf("unknown persistence policy %q", o.Persistence)
	}
	switch o.Confirmation {
	case ConfirmThenReason, ConfirmThenFinish:
	default:
		return fmt.Errorf("unknown confirmation mode %q", o.Confirmation)
	}
	switch o.Restart {
	case RestartRetain, RestartDiscard:
	default:
		return fmt.Errorf("unknown restart policy %q", o.Restart)
	}
	switch o.Document.Digits {
	case DigitPolicyReject, DigitPolicyStrip:
	default:
		return fmt.Errorf("unknown document digit policy %q", o.Document.Digits)
	}
	if o.Document.MinDigits < 0 || o.Document.MaxDigits < 0 {
		return errors.New("document length bounds must be >= 0")
	}
	if o.Document.MaxDigits > 0 && o.Document.MinDigits > o.Document.MaxDigits {
		return errors.New("document min digits exceeds max digits")
	}
	if o.IdleThreshold <= 0 {
		return errors.New("idle threshold must be > 0")
	}
	return nil
}

// Turn is the input of one dialogue step.
type Turn struct {
	UserID string
	Text   string
	Now    time.Time
	// Profile is the persisted snapshot; the zero value when the user is new.
	Profile domain.Profile
	// Session is the in-progress session, nil when none survives reconciliation.
	Session *domain.Session
	// NewSession is the staleness verdict for this message.
	NewSession bool
}

// Transition is the outcome of one dialogue step. Applying it is the caller's job.
type Transition struct {
	Replies []string
	// Session is the next session; nil ends the flow and clears the store.
	Session *domain.Session
	// Patch holds profile fields to merge.
	Patch domain.ProfilePatch
	// ResetProfile clears persisted intake fields before Patch is applied.
	ResetProfile bool
	// Consultation, when set, is appended together with Patch in one commit.
	Consultation *domain.Consultation
	// Rejected is set when the input failed validation and the state is unchanged.
	Rejected error
}

// Machine is the intake dialogue state machine. Step is pure: it performs no I/O.
type Machine struct {
	opts Options
}

// NewMachine creates a machine with the given options.
func NewMachine(opts Options) *Machine {
	return &Machine{opts: opts}
}

// Options returns the machine configuration.
func (m *Machine) Options() Options {
	return m.opts
}

// Step computes the transition for one inbound message.
func (m *Machine) Step(t Turn) Transition {
	if t.NewSession {
		return m.enter(t)
	}
	if t.Session == nil {
		return m.noSession(t)
	}

	switch t.Session.State {
	case domain.StateAwaitingName:
		return m.onName(t)
	case domain.StateAwaitingDocument:
		return m.onDocument(t)
	case domain.StateAwaitingAffiliation:
		return m.onAffiliation(t)
	case domain.StateAwaitingReason:
		return m.onReason(t)
	case domain.StateAwaitingConfirmation:
		return m.onConfirmation(t)
	default:
		return m.noSession(t)
	}
}

// enter handles the first message of a new session.
func (m *Machine) enter(t Turn) Transition {
	msgs := m.opts.Messages
	p := t.Profile

	if !p.HasIdentity() {
		if p.Name == "" {
			return Transition{
				Replies: []string{msgs.Welcome, msgs.AskName},
				Session: m.session(t, domain.StateAwaitingName, domain.Draft{}),
			}
		}
		return Transition{
			Replies: []string{msgs.Welcome, msgs.AskDocument},
			Session: m.session(t, domain.StateAwaitingDocument, domain.Draft{}),
		}
	}

	affiliation := p.Affiliation
	if affiliation == "" {
		affiliation = m.opts.Labels.None
	}
	return Transition{
		Replies: []string{msgs.summary(p.Name, p.Document, affiliation)},
		Session: m.session(t, domain.StateAwaitingConfirmation, domain.Draft{}),
	}
}

func (m *Machine) noSession(t Turn) Transition {
	msgs := m.opts.Messages
	if t.Profile.IsComplete() {
		return Transition{Replies: []string{msgs.AlreadyPending}}
	}
	return Transition{
		Replies: []string{msgs.StartFlow},
		Session: m.session(t, domain.StateAwaitingName, domain.Draft{}),
	}
}

func (m *Machine) onName(t Turn) Transition {
	msgs := m.opts.Messages
	name, err := ParseName(t.Text)
	if err != nil {
		return m.reject(t, err, msgs.RetryName)
	}

	tr := Transition{Replies: []string{fmt.Sprintf(msgs.ThanksName, name)}}
	draft := t.Session.Draft
	if m.deferred() {
		draft.Name = name
	} else {
		tr.Patch.Name = &name
	}
	tr.Session = m.session(t, domain.StateAwaitingDocument, draft)
	return tr
}

func (m *Machine) onDocument(t Turn) Transition {
	msgs := m.opts.Messages
	doc, err := m.opts.Document.Parse(t.Text)
	if err != nil {
		retry := msgs.RetryDocument
		if errors.Is(err, ErrDocumentLength) {
			retry = msgs.RetryDocumentLength
		}
		return m.reject(t, err, retry)
	}

	tr := Transition{Replies: []string{msgs.affiliationMenu(m.opts.Labels)}}
	draft := t.Session.Draft
	if m.deferred() {
		draft.Document = doc
	} else {
		tr.Patch.Document = &doc
	}
	tr.Session = m.session(t, domain.StateAwaitingAffiliation, draft)
	return tr
}

func (m *Machine) onAffiliation(t Turn) Transition {
	msgs := m.opts.Messages
	sel := ParseAffiliation(t.Text)
	rendered := m.opts.Labels.Render(sel)

	var ack string
	if sel.Understood {
		ack = fmt.Sprintf(msgs.AffiliationSaved, rendered)
	} else {
		ack = fmt.Sprintf(msgs.AffiliationUnknown, rendered)
	}

	tr := Transition{Replies: []string{ack, msgs.AskReason}}
	draft := t.Session.Draft
	if m.deferred() {
		draft.Affiliation = rendered
	} else {
		tr.Patch.Affiliation = &rendered
	}
	tr.Session = m.session(t, domain.StateAwaitingReason, draft)
	return tr
}

func (m *Machine) onReason(t Turn) Transition {
	msgs := m.opts.Messages
	reason, err := ParseReason(t.Text)
	if err != nil {
		return m.reject(t, err, msgs.RetryReason)
	}

	tr := Transition{
		Replies: []string{msgs.ReasonSaved},
		Consultation: &domain.Consultation{
			UserID:    t.UserID,
			Reason:    reason,
			CreatedAt: t.Now,
		},
	}
	if m.deferred() {
		tr.Patch = t.Session.Draft.Patch()
	}
	return tr
}

func (m *Machine) onConfirmation(t Turn) Transition {
	msgs := m.opts.Messages
	switch ParseYesNo(t.Text) {
	case AnswerYes:
		if m.opts.Confirmation == ConfirmThenFinish {
			return Transition{Replies: []string{msgs.ConfirmedFinish}}
		}
		return Transition{
			Replies: []string{msgs.AskReason},
			Session: m.session(t, domain.StateAwaitingReason, domain.Draft{}),
		}
	case AnswerNo:
		return Transition{
			Replies:      []string{msgs.RestartFlow, msgs.AskName},
			Session:      m.session(t, domain.StateAwaitingName, domain.Draft{}),
			ResetProfile: m.opts.Restart == RestartDiscard,
		}
	default:
		return m.reject(t, ErrUnrecognizedAnswer, msgs.RetryConfirmation)
	}
}

func (m *Machine) deferred() bool {
	return m.opts.Persistence == PersistDeferred
}

func (m *Machine) reject(t Turn, err error, retry string) Transition {
	sess := *t.Session
	sess.UpdatedAt = t.Now
	return Transition{
		Replies:  []string{retry},
		Session:  &sess,
		Rejected: err,
	}
}

func (m *Machine) session(t Turn, state domain.State, draft domain.Draft) *domain.Session {
	return &domain.Session{
		UserID:    t.UserID,
		State:     state,
		Draft:     draft,
		UpdatedAt: t.Now,
	}
}

// String is used in logs.
func (tr Transition) String() string {
	next := "done"
	if tr.Session != nil {
		next = string(tr.Session.State)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "next=%s replies=%d", next, len(tr.Replies))
	if !tr.Patch.IsEmpty() {
		b.WriteString(" patch")
	}
	if tr.ResetProfile {
		b.WriteString(" reset")
	}
	if tr.Consultation != nil {
		b.WriteString(" consultation")
	}
	if tr.Rejected != nil {
		fmt.Fprintf(&b, " rejected=%q", tr.Rejected.Error())
	}
	return b.String()
}
