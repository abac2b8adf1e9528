package intake

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sessionIn(state domain.State) *domain.Session {
	return &domain.Session{UserID: "u1", State: state}
}

func TestStepNewSessionWithoutProfileAsksName(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())
	msgs := m.Options().Messages

	tr := m.Step(Turn{UserID: "u1", Text: "Hola", Now: testNow, NewSession: true, Profile: domain.Profile{ID: "u1"}})

	if tr.Session == nil || tr.Session.State != domain.StateAwaitingName {
		t.Fatalf("expected awaiting_name, got %s", tr)
	}
	if len(tr.Replies) != 2 || tr.Replies[0] != msgs.Welcome || tr.Replies[1] != msgs.AskName {
		t.Errorf("unexpected replies %q", tr.Replies)
	}
	if !tr.Patch.IsEmpty() || tr.Consultation != nil {
		t.Errorf("entry must not write fields: %s", tr)
	}
}

func TestStepNewSessionWithNameOnlyAsksDocument(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())

	tr := m.Step(Turn{UserID: "u1", Now: testNow, NewSession: true, Profile: domain.Profile{ID: "u1", Name: "Maria Lopez"}})

	if tr.Session == nil || tr.Session.State != domain.StateAwaitingDocument {
		t.Fatalf("expected awaiting_document, got %s", tr)
	}
}

func TestStepNewSessionWithIdentityAsksConfirmation(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())

	tr := m.Step(Turn{
		UserID:     "u1",
		Now:        testNow,
		NewSession: true,
		Session:    sessionIn(domain.StateAwaitingReason),
		Profile:    domain.Profile{ID: "u1", Name: "Maria Lopez", Document: "40111222"},
	})

	if tr.Session == nil || tr.Session.State != domain.StateAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", tr)
	}
	summary := tr.Replies[0]
	for _, want := range []string{"Maria Lopez", "40111222", "*Affiliation:* None"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary %q missing %q", summary, want)
		}
	}
}

func TestStepNoSession(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())
	msgs := m.Options().Messages

	complete := domain.Profile{ID: "u1", Name: "A", Document: "1234567", Affiliation: "None"}
	tr := m.Step(Turn{UserID: "u1", Now: testNow, Profile: complete})
	if tr.Session != nil || len(tr.Replies) != 1 || tr.Replies[0] != msgs.AlreadyPending {
		t.Errorf("complete profile: unexpected %s %q", tr, tr.Replies)
	}

	tr = m.Step(Turn{UserID: "u1", Now: testNow, Profile: domain.Profile{ID: "u1", Name: "A"}})
	if tr.Session == nil || tr.Session.State != domain.StateAwaitingName || tr.Replies[0] != msgs.StartFlow {
		t.Errorf("incomplete profile: unexpected %s %q", tr, tr.Replies)
	}
}

func TestStepRejectionsKeepState(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())
	msgs := m.Options().Messages

	tests := []struct {
		state   domain.State
		text    string
		wantErr error
		retry   string
	}{
		{state: domain.StateAwaitingName, text: "   ", wantErr: ErrEmptyInput, retry: msgs.RetryName},
		{state: domain.StateAwaitingDocument, text: "abc123", wantErr: ErrDocumentNotDigits, retry: msgs.RetryDocument},
		{state: domain.StateAwaitingDocument, text: "12", wantErr: ErrDocumentLength, retry: msgs.RetryDocumentLength},
		{state: domain.StateAwaitingReason, text: "", wantErr: ErrEmptyInput, retry: msgs.RetryReason},
		{state: domain.StateAwaitingConfirmation, text: "maybe", wantErr: ErrUnrecognizedAnswer, retry: msgs.RetryConfirmation},
	}
	for _, tt := range tests {
		tr := m.Step(Turn{UserID: "u1", Text: tt.text, Now: testNow, Session: sessionIn(tt.state)})
		if !errors.Is(tr.Rejected, tt.wantErr) {
			t.Errorf("%s %q: Rejected = %v, want %v", tt.state, tt.text, tr.Rejected, tt.wantErr)
		}
		if tr.Session == nil || tr.Session.State != tt.state {
			t.Errorf("%s %q: state changed: %s", tt.state, tt.text, tr)
		}
		if !tr.Patch.IsEmpty() || tr.Consultation != nil || tr.ResetProfile {
			t.Errorf("%s %q: rejection must not write: %s", tt.state, tt.text, tr)
		}
		if len(tr.Replies) != 1 || tr.Replies[0] != tt.retry {
			t.Errorf("%s %q: replies %q", tt.state, tt.text, tr.Replies)
		}
	}
}

func TestStepIncrementalWritesEachField(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())

	tr := m.Step(Turn{UserID: "u1", Text: "Maria Lopez", Now: testNow, Session: sessionIn(domain.StateAwaitingName)})
	if tr.Patch.Name == nil || *tr.Patch.Name != "Maria Lopez" || tr.Session.State != domain.StateAwaitingDocument {
		t.Fatalf("name step: %s", tr)
	}

	tr = m.Step(Turn{UserID: "u1", Text: "40111222", Now: testNow, Session: tr.Session})
	if tr.Patch.Document == nil || *tr.Patch.Document != "40111222" || tr.Session.State != domain.StateAwaitingAffiliation {
		t.Fatalf("document step: %s", tr)
	}
	if !strings.Contains(tr.Replies[0], "1 - Union") {
		t.Errorf("expected affiliation menu, got %q", tr.Replies[0])
	}

	tr = m.Step(Turn{UserID: "u1", Text: "1,3", Now: testNow, Session: tr.Session})
	if tr.Patch.Affiliation == nil || *tr.Patch.Affiliation != "Union, Mutual" || tr.Session.State != domain.StateAwaitingReason {
		t.Fatalf("affiliation step: %s", tr)
	}
	if !strings.Contains(tr.Replies[0], "Union, Mutual") {
		t.Errorf("expected confirmation of selection, got %q", tr.Replies[0])
	}

	tr = m.Step(Turn{UserID: "u1", Text: "Necesito ayuda", Now: testNow, Session: tr.Session})
	if tr.Session != nil {
		t.Fatalf("reason step must end the flow: %s", tr)
	}
	if tr.Consultation == nil || tr.Consultation.Reason != "Necesito ayuda" || !tr.Consultation.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected consultation %+v", tr.Consultation)
	}
	if !tr.Patch.IsEmpty() {
		t.Errorf("incremental policy commits nothing extra at the end: %s", tr)
	}
}

func TestStepUnrecognizedAffiliationDefaultsToNone(t *testing.T) {
	t.Parallel()
	m := NewMachine(DefaultOptions())
	msgs := m.Options().Messages

	tr := m.Step(Turn{UserID: "u1", Text: "no sé", Now: testNow, Session: sessionIn(domain.StateAwaitingAffiliation)})
	if tr.Rejected != nil {
		t.Fatalf("affiliation never rejects, got %v", tr.Rejected)
	}
	if *tr.Patch.Affiliation != "None" {
		t.Errorf("Affiliation = %q", *tr.Patch.Affiliation)
	}
	if tr.Replies[0] != "I couldn't recognize the affiliation, it will be recorded as 'None'." || tr.Replies[1] != msgs.AskReason {
		t.Errorf("unexpected replies %q", tr.Replies)
	}
}

func TestStepDeferredKeepsDraftUntilReason(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	opts.Persistence = PersistDeferred
	m := NewMachine(opts)

	sess := sessionIn(domain.StateAwaitingName)
	for _, text := range []string{"Maria Lopez", "40111222", "2"} {
		tr := m.Step(Turn{UserID: "u1", Text: text, Now: testNow, Session: sess})
		if !tr.Patch.IsEmpty() {
			t.Fatalf("deferred policy wrote early on %q: %s", text, tr)
		}
		sess = tr.Session
	}
	want := domain.Draft{Name: "Maria Lopez", Document: "40111222", Affiliation: "Health Plan"}
	if sess.Draft != want {
		t.Fatalf("Draft = %+v, want %+v", sess.Draft, want)
	}

	tr := m.Step(Turn{UserID: "u1", Text: "consulta", Now: testNow, Session: sess})
	if tr.Consultation == nil {
		t.Fatal("expected consultation")
	}
	if tr.Patch.Name == nil || *tr.Patch.Name != "Maria Lopez" || *tr.Patch.Document != "40111222" || *tr.Patch.Affiliation != "Health Plan" {
		t.Fatalf("expected full patch at commit, got %s", tr)
	}
}

func TestStepConfirmation(t *testing.T) {
	t.Parallel()

	t.Run("yes asks reason", func(t *testing.T) {
		m := NewMachine(DefaultOptions())
		tr := m.Step(Turn{UserID: "u1", Text: "Sí", Now: testNow, Session: sessionIn(domain.StateAwaitingConfirmation)})
		if tr.Session == nil || tr.Session.State != domain.StateAwaitingReason {
			t.Fatalf("unexpected %s", tr)
		}
	})

	t.Run("yes finishes", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Confirmation = ConfirmThenFinish
		m := NewMachine(opts)
		tr := m.Step(Turn{UserID: "u1", Text: "yes", Now: testNow, Session: sessionIn(domain.StateAwaitingConfirmation)})
		if tr.Session != nil || tr.Replies[0] != opts.Messages.ConfirmedFinish {
			t.Fatalf("unexpected %s %q", tr, tr.Replies)
		}
	})

	t.Run("no retains fields", func(t *testing.T) {
		m := NewMachine(DefaultOptions())
		tr := m.Step(Turn{UserID: "u1", Text: "no", Now: testNow, Session: sessionIn(domain.StateAwaitingConfirmation)})
		if tr.Session == nil || tr.Session.State != domain.StateAwaitingName || tr.ResetProfile {
			t.Fatalf("unexpected %s", tr)
		}
	})

	t.Run("no discards fields", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Restart = RestartDiscard
		m := NewMachine(opts)
		tr := m.Step(Turn{UserID: "u1", Text: "NO", Now: testNow, Session: sessionIn(domain.StateAwaitingConfirmation)})
		if tr.Session == nil || tr.Session.State != domain.StateAwaitingName || !tr.ResetProfile {
			t.Fatalf("unexpected %s", tr)
		}
	})
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}

	bad := DefaultOptions()
	bad.Persistence = "eventually"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown persistence policy")
	}

	bad = DefaultOptions()
	bad.Document.MinDigits = 9
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min > max")
	}

	bad = DefaultOptions()
	bad.IdleThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero idle threshold")
	}
}
