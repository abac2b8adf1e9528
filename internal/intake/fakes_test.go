package intake

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/rocky/internal/domain"
)

var errBoom = errors.New("boom")

type fakeRepo struct {
	mu            sync.Mutex
	profiles      map[string]*domain.Profile
	consultations []*domain.Consultation
	nextID        int64

	failGet    bool
	failWrite  bool
	panicGet   bool
	writeDelay time.Duration
	writes     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{profiles: make(map[string]*domain.Profile)}
}

func (f *fakeRepo) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicGet {
		panic("repository exploded")
	}
	if f.failGet {
		return nil, errBoom
	}
	p := f.profiles[userID]
	if p == nil {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (f *fakeRepo) TouchProfile(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profiles[userID]
	if p == nil {
		p = &domain.Profile{ID: userID}
		f.profiles[userID] = p
	}
	p.LastInteractionAt = at
	return nil
}

func (f *fakeRepo) UpdateProfile(_ context.Context, userID string, patch domain.ProfilePatch) error {
	f.slowWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errBoom
	}
	f.writes++
	f.mergeLocked(userID, patch)
	return nil
}

func (f *fakeRepo) ResetProfile(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errBoom
	}
	f.writes++
	if p := f.profiles[userID]; p != nil {
		p.Name, p.Document, p.Affiliation = "", "", ""
	}
	return nil
}

func (f *fakeRepo) AppendConsultation(ctx context.Context, c *domain.Consultation) error {
	return f.CommitIntake(ctx, c.UserID, domain.ProfilePatch{}, c)
}

func (f *fakeRepo) CommitIntake(_ context.Context, userID string, patch domain.ProfilePatch, c *domain.Consultation) error {
	f.slowWrite()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return errBoom
	}
	f.writes++
	f.mergeLocked(userID, patch)
	if c != nil {
		f.nextID++
		c.ID = f.nextID
		copy := *c
		f.consultations = append(f.consultations, &copy)
	}
	return nil
}

func (f *fakeRepo) ListConsultations(_ context.Context, limit int) ([]*domain.Consultation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*domain.Consultation(nil), f.consultations...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

func (f *fakeRepo) mergeLocked(userID string, patch domain.ProfilePatch) {
	p := f.profiles[userID]
	if p == nil {
		p = &domain.Profile{ID: userID}
		f.profiles[userID] = p
	}
	*p = patch.Apply(*p)
}

func (f *fakeRepo) slowWrite() {
	f.mu.Lock()
	d := f.writeDelay
	f.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
}

func (f *fakeRepo) profile(userID string) domain.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.profiles[userID]; p != nil {
		return *p
	}
	return domain.Profile{}
}

func (f *fakeRepo) set(fn func(f *fakeRepo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent map[string][]string
	fail bool
	// failOn rejects only the listed texts.
	failOn map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{sent: make(map[string][]string)}
}

func (d *fakeDispatcher) Send(_ context.Context, targetID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail || d.failOn[text] {
		return errBoom
	}
	d.sent[targetID] = append(d.sent[targetID], text)
	return nil
}

// drain returns and forgets everything sent to targetID.
func (d *fakeDispatcher) drain(targetID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.sent[targetID]
	delete(d.sent, targetID)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingTranscript struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingTranscript) Record(userID, direction, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, userID+"|"+direction+"|"+text)
}
