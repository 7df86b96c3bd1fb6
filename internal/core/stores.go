package core

import (
	"context"
	"time"

	"github.com/valter-silva-au/devassist/pkg/models"
)

// KnowledgeLog is the append-only durable log behind the knowledge store.
// This interface is defined locally in core to avoid importing storage.
//
// ReadAll returns every record it could decode. A non-nil error alongside
// records means some content was skipped or unreadable.
type KnowledgeLog interface {
	Append(rec models.KnowledgeRecord) error
	ReadAll() ([]models.KnowledgeRecord, error)
}

// PreservationArchive persists session roll-ups newest first.
type PreservationArchive interface {
	Prepend(rec models.PreservationRecord, keep int) error
	List() ([]models.PreservationRecord, error)
}

// SessionStore persists the active-session lock, the archive of ended and
// crashed sessions, checkpoint snapshots, and the session history document.
type SessionStore interface {
	// LoadLock returns nil, nil when no lock exists and an error when the
	// lock exists but cannot be read or parsed.
	LoadLock() (*models.Session, error)
	SaveLock(s models.Session) error
	// ArchiveSession writes s under its id and removes the lock.
	ArchiveSession(s models.Session) error
	// QuarantineLock moves an unreadable lock into the archive and returns
	// the archived path.
	QuarantineLock() (string, error)
	ListArchived() ([]models.Session, error)
	SaveCheckpoint(cp models.Checkpoint) error
	PrependHistory(entry string) error
}

// GitClient is the subset of git the session manager and cleanup engine
// use. Implementations bound every call with a timeout.
type GitClient interface {
	CurrentBranch(ctx context.Context) (string, error)
	ShortStatus(ctx context.Context) (string, error)
	// Snapshot records the working tree as a stash entry without touching
	// it and returns the stash commit, or "" when there is nothing to save.
	Snapshot(ctx context.Context, message string) (string, error)
	PruneRemote(ctx context.Context) error
	GC(ctx context.Context) error
}

// Clock abstracts time so the heartbeat can be driven from tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of time.Ticker the heartbeat needs.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time   { return s.t.C }
func (s *systemTicker) Reset(d time.Duration) { s.t.Reset(d) }
func (s *systemTicker) Stop()                 { s.t.Stop() }
