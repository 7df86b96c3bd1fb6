package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/valter-silva-au/devassist/pkg/models"
)

// fakeClock is a manually advanced Clock whose tickers fire only on Tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick fires every live ticker once.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		t.fire(now)
	}
}

func (c *fakeClock) resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		t.mu.Lock()
		n += t.resets
		t.mu.Unlock()
	}
	return n
}

type fakeTicker struct {
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
	resets  int
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Reset(time.Duration) {
	t.mu.Lock()
	t.resets++
	t.mu.Unlock()
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) fire(now time.Time) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.ch <- now
}

// fakeGit records calls and returns canned answers.
type fakeGit struct {
	mu        sync.Mutex
	branch    string
	status    string
	stashRef  string
	branchErr error
	gcErr     error
	calls     []string
}

func (g *fakeGit) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *fakeGit) CurrentBranch(context.Context) (string, error) {
	g.record("branch")
	return g.branch, g.branchErr
}

func (g *fakeGit) ShortStatus(context.Context) (string, error) {
	g.record("status")
	return g.status, nil
}

func (g *fakeGit) Snapshot(_ context.Context, message string) (string, error) {
	g.record("snapshot " + message)
	return g.stashRef, nil
}

func (g *fakeGit) PruneRemote(context.Context) error {
	g.record("prune")
	return nil
}

func (g *fakeGit) GC(context.Context) error {
	g.record("gc")
	return g.gcErr
}

func (g *fakeGit) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// recordingEvents is an EventLogger that keeps every event type.
type recordingEvents struct {
	mu     sync.Mutex
	types  []string
	failOn string
}

func (r *recordingEvents) LogEvent(eventType string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
	if eventType == r.failOn {
		return errors.New("event sink unavailable")
	}
	return nil
}

func (r *recordingEvents) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

func (r *recordingEvents) Has(eventType string) bool {
	for _, t := range r.Types() {
		if t == eventType {
			return true
		}
	}
	return false
}

// memLog is an in-memory KnowledgeLog.
type memLog struct {
	mu        sync.Mutex
	records   []models.KnowledgeRecord
	appendErr error
	readErr   error
}

func (l *memLog) Append(rec models.KnowledgeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *memLog) ReadAll() ([]models.KnowledgeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.KnowledgeRecord(nil), l.records...), l.readErr
}

// memArchive is an in-memory PreservationArchive.
type memArchive struct {
	mu      sync.Mutex
	records []models.PreservationRecord
}

func (a *memArchive) Prepend(rec models.PreservationRecord, keep int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append([]models.PreservationRecord{rec}, a.records...)
	if keep > 0 && len(a.records) > keep {
		a.records = a.records[:keep]
	}
	return nil
}

func (a *memArchive) List() ([]models.PreservationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.PreservationRecord(nil), a.records...), nil
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// failingCleanup is a CleanupEngine that always fails.
type failingCleanup struct{ err error }

func (f failingCleanup) Run(context.Context, string, bool) (*models.CleanupReport, error) {
	return nil, f.err
}
