package core

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// SessionManager is the session state machine of one project. At most one
// session is active at a time; the lock file is the cross-restart source of
// truth.
type SessionManager interface {
	// Start archives any lock left by a session that never ended as a
	// crashed session, then opens a new session and starts the heartbeat.
	Start(ctx context.Context, description string) (*models.Session, error)

	// Attach adopts the session persisted in the lock file by an earlier
	// process. No heartbeat is started.
	Attach() (*models.Session, error)

	// Heartbeat records a heartbeat and refreshes the lock. The scheduler
	// calls it on every tick.
	Heartbeat() error

	// SprintCheck records a heartbeat carrying message and restarts the
	// heartbeat interval.
	SprintCheck(message string) (*models.KnowledgeRecord, error)

	Checkpoint(ctx context.Context, summary string) (*models.KnowledgeRecord, error)

	// End runs the end-of-session pipeline with the configured cleanup mode.
	End(ctx context.Context) (*models.EndResult, error)
	EndWith(ctx context.Context, opts EndOptions) (*models.EndResult, error)

	Record(kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error)
	Search(query, category string, limit int, minSimilarity float64) ([]models.ScoredRecord, error)
	Cleanup(ctx context.Context, dryRun bool) (*models.CleanupReport, error)

	Status() models.SessionStatus
	History() ([]models.Session, error)

	// Close stops the heartbeat without ending the session. The lock stays
	// on disk and the next Start treats it as crashed.
	Close()
}

// EndOptions controls the cleanup step of the end-of-session pipeline.
type EndOptions struct {
	SkipCleanup   bool
	DryRunCleanup bool
}

// SessionOptions configures a SessionManager.
type SessionOptions struct {
	ProjectRoot         string
	Project             string
	HeartbeatInterval   time.Duration
	CheckpointSnapshots bool
	GitSnapshot         bool
	CleanupOnEnd        bool
	CleanupDryRunOnEnd  bool
	Clock               Clock
	Events              EventLogger
}

// End-of-session pipeline steps, in order.
const (
	StepStopHeartbeat     = "stop_heartbeat"
	StepBuildSummary      = "build_summary"
	StepPreserveKnowledge = "preserve_knowledge"
	StepUpdateHistory     = "update_history"
	StepCleanup           = "cleanup"
	StepArchiveSession    = "archive_session"
)

const heartbeatNote = "Session active"

type sessionManager struct {
	store     SessionStore
	knowledge KnowledgeManager
	cleanup   CleanupEngine
	git       GitClient
	opts      SessionOptions

	// opMu serializes foreground operations. The heartbeat never takes it.
	opMu sync.Mutex

	mu      sync.Mutex
	state   models.SessionState
	current *models.Session
	ending  bool
	hb      *heartbeat
}

// NewSessionManager creates a SessionManager. cleanup and git may be nil,
// in which case the corresponding steps are skipped.
func NewSessionManager(store SessionStore, knowledge KnowledgeManager, cleanup CleanupEngine, git GitClient, opts SessionOptions) SessionManager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Project == "" {
		opts.Project = NormalizeProject(opts.ProjectRoot)
	}
	return &sessionManager{
		store:     store,
		knowledge: knowledge,
		cleanup:   cleanup,
		git:       git,
		opts:      opts,
		state:     models.SessionIdle,
	}
}

func (m *sessionManager) Start(ctx context.Context, description string) (*models.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == models.SessionActive && m.current != nil {
		id := m.current.ID
		m.mu.Unlock()
		return nil, &AlreadyActiveError{SessionID: id}
	}
	stale := m.hb
	m.hb = nil
	m.mu.Unlock()
	if stale != nil {
		stale.Stop()
	}

	recovered, err := m.recoverCrashed()
	if err != nil {
		return nil, err
	}

	branch, status := m.captureGit(ctx)
	now := m.opts.Clock.Now().UTC()
	s := models.Session{
		ID:            newSessionID(now),
		Project:       m.opts.Project,
		State:         models.SessionActive,
		Description:   strings.TrimSpace(description),
		StartedAt:     now,
		GitBranch:     branch,
		InitialStatus: status,
		KnowledgeRefs: []string{},
		RecoveredFrom: recovered,
	}
	if err := m.store.SaveLock(s); err != nil {
		return nil, &StorageError{Op: "writing session lock", Err: err}
	}

	m.mu.Lock()
	m.current = &s
	m.state = models.SessionActive
	m.ending = false
	m.hb = startHeartbeat(m.opts.Clock, m.opts.HeartbeatInterval, func(time.Time) {
		if err := m.Heartbeat(); err != nil {
			logEvent(m.opts.Events, "session.heartbeat.failed", map[string]any{"error": err.Error()})
		}
	})
	out := copySession(s)
	m.mu.Unlock()

	logEvent(m.opts.Events, "session.started", map[string]any{
		"session_id":     s.ID,
		"project":        s.Project,
		"branch":         s.GitBranch,
		"recovered_from": recovered,
	})
	return &out, nil
}

// recoverCrashed archives a leftover lock as a crashed session and returns
// the id it was archived under, or "" when there was no lock.
func (m *sessionManager) recoverCrashed() (string, error) {
	prev, err := m.store.LoadLock()
	if err != nil {
		archived, qerr := m.store.QuarantineLock()
		if qerr != nil {
			return "", &StorageError{Op: "archiving unreadable session lock", Err: qerr}
		}
		id := strings.TrimSuffix(filepath.Base(archived), filepath.Ext(archived))
		logEvent(m.opts.Events, "session.crash_recovered", map[string]any{
			"session_id": id,
			"corrupt":    true,
			"error":      err.Error(),
		})
		return id, nil
	}
	if prev == nil {
		return "", nil
	}

	prev.State = models.SessionCrashed
	if err := m.store.ArchiveSession(*prev); err != nil {
		return "", &StorageError{Op: "archiving crashed session", Err: err}
	}
	logEvent(m.opts.Events, "session.crash_recovered", map[string]any{
		"session_id": prev.ID,
		"started_at": prev.StartedAt,
	})
	return prev.ID, nil
}

func (m *sessionManager) captureGit(ctx context.Context) (string, string) {
	branch, status := "main", ""
	if m.git == nil {
		return branch, status
	}
	if b, err := m.git.CurrentBranch(ctx); err != nil {
		m.externalFailed("git branch", err)
	} else if b != "" {
		branch = b
	}
	if st, err := m.git.ShortStatus(ctx); err != nil {
		m.externalFailed("git status", err)
	} else {
		status = st
	}
	return branch, status
}

func (m *sessionManager) Attach() (*models.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == models.SessionActive && m.current != nil {
		out := copySession(*m.current)
		m.mu.Unlock()
		return &out, nil
	}
	m.mu.Unlock()

	s, err := m.store.LoadLock()
	if err != nil {
		return nil, &StorageError{Op: "reading session lock", Err: err}
	}
	if s == nil {
		return nil, &NoActiveSessionError{Op: "attach"}
	}
	s.State = models.SessionActive
	if s.KnowledgeRefs == nil {
		s.KnowledgeRefs = []string{}
	}

	m.mu.Lock()
	m.current = s
	m.state = models.SessionActive
	m.ending = false
	out := copySession(*s)
	m.mu.Unlock()
	return &out, nil
}

func (m *sessionManager) Heartbeat() error {
	_, err := m.beat(heartbeatNote)
	return err
}

func (m *sessionManager) SprintCheck(message string) (*models.KnowledgeRecord, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if strings.TrimSpace(message) == "" {
		message = "Sprint check"
	}
	rec, err := m.beat(message)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.hb != nil {
		m.hb.Reset()
	}
	m.mu.Unlock()
	return rec, nil
}

// beat writes one heartbeat record and refreshes the lock. It is shared by
// the scheduler and SprintCheck.
func (m *sessionManager) beat(note string) (*models.KnowledgeRecord, error) {
	m.mu.Lock()
	if m.state != models.SessionActive || m.ending || m.current == nil {
		m.mu.Unlock()
		return nil, &NoActiveSessionError{Op: "heartbeat"}
	}
	sid := m.current.ID
	m.mu.Unlock()

	rec, err := m.knowledge.RecordFor(sid, models.KindHeartbeat, map[string]string{"note": note}, "session")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != sid {
		return rec, nil
	}
	now := m.opts.Clock.Now().UTC()
	m.current.LastHeartbeatAt = &now
	m.current.KnowledgeRefs = append(m.current.KnowledgeRefs, rec.ID)
	if err := m.persistLocked("heartbeat"); err != nil {
		return rec, err
	}
	logEvent(m.opts.Events, "session.heartbeat", map[string]any{"session_id": sid, "record_id": rec.ID})
	return rec, nil
}

func (m *sessionManager) Checkpoint(ctx context.Context, summary string) (*models.KnowledgeRecord, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != models.SessionActive || m.current == nil {
		m.mu.Unlock()
		return nil, &NoActiveSessionError{Op: "checkpoint"}
	}
	sid, branch := m.current.ID, m.current.GitBranch
	m.mu.Unlock()

	rec, err := m.knowledge.RecordFor(sid, models.KindCheckpoint, map[string]string{"summary": summary}, "checkpoint")
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	now := m.opts.Clock.Now().UTC()
	m.current.LastCheckpointAt = &now
	m.current.KnowledgeRefs = append(m.current.KnowledgeRefs, rec.ID)
	err = m.persistLocked("checkpoint")
	m.mu.Unlock()
	if err != nil {
		return rec, err
	}

	cp := models.Checkpoint{
		SessionID: sid,
		RecordID:  rec.ID,
		Summary:   summary,
		Branch:    branch,
		CreatedAt: now,
	}
	if m.opts.GitSnapshot && m.git != nil {
		ref, err := m.git.Snapshot(ctx, "devassist checkpoint: "+summary)
		if err != nil {
			m.externalFailed("git stash", err)
		}
		cp.StashRef = ref
	}
	if m.opts.CheckpointSnapshots {
		if err := m.store.SaveCheckpoint(cp); err != nil {
			logEvent(m.opts.Events, "session.checkpoint_snapshot.failed", map[string]any{
				"session_id": sid,
				"error":      err.Error(),
			})
		}
	}

	logEvent(m.opts.Events, "session.checkpoint", map[string]any{
		"session_id": sid,
		"record_id":  rec.ID,
		"stash_ref":  cp.StashRef,
	})
	return rec, nil
}

func (m *sessionManager) End(ctx context.Context) (*models.EndResult, error) {
	return m.EndWith(ctx, EndOptions{
		SkipCleanup:   !m.opts.CleanupOnEnd,
		DryRunCleanup: m.opts.CleanupDryRunOnEnd,
	})
}

func (m *sessionManager) EndWith(ctx context.Context, opts EndOptions) (*models.EndResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != models.SessionActive || m.current == nil {
		m.mu.Unlock()
		return nil, &NoActiveSessionError{Op: "end"}
	}
	if !m.syncLockLocked() {
		err := m.endedElsewhereLocked("end")
		hb := m.hb
		m.hb = nil
		m.mu.Unlock()
		if hb != nil {
			hb.Stop()
		}
		return nil, err
	}
	m.ending = true
	hb := m.hb
	m.hb = nil
	m.mu.Unlock()

	result := &models.EndResult{}
	record := func(name string, err error) {
		step := models.StepResult{Name: name, OK: err == nil}
		if err != nil {
			step.Error = err.Error()
			result.Errors = append(result.Errors, name+": "+err.Error())
		}
		result.Steps = append(result.Steps, step)
	}

	// No heartbeat may run past this point.
	if hb != nil {
		hb.Stop()
	}
	record(StepStopHeartbeat, nil)

	m.mu.Lock()
	// Picks up records attached by other processes while the heartbeat ran.
	m.syncLockLocked()
	session := copySession(*m.current)
	m.mu.Unlock()
	now := m.opts.Clock.Now().UTC()

	records, err := m.knowledge.ByIDs(session.KnowledgeRefs)
	summary := BuildSummary(session, records, now)
	result.Summary = &summary
	record(StepBuildSummary, err)

	pres, err := m.knowledge.Preserve(session, now)
	result.Preservation = pres
	record(StepPreserveKnowledge, err)

	if err := m.store.PrependHistory(summary.Report); err != nil {
		record(StepUpdateHistory, &StorageError{Op: "updating session history", Err: err})
	} else {
		record(StepUpdateHistory, nil)
	}

	if opts.SkipCleanup || m.cleanup == nil {
		result.Steps = append(result.Steps, models.StepResult{Name: StepCleanup, OK: true, Skipped: true})
	} else {
		report, err := m.cleanup.Run(ctx, m.opts.ProjectRoot, opts.DryRunCleanup)
		result.Cleanup = report
		if err == nil && report != nil && len(report.Errors) > 0 {
			for _, e := range report.Errors {
				result.Errors = append(result.Errors, StepCleanup+": "+e)
			}
		}
		record(StepCleanup, err)
	}

	session.State = models.SessionEnded
	session.EndedAt = &now
	if err := m.store.ArchiveSession(session); err != nil {
		record(StepArchiveSession, &StorageError{Op: "archiving session", Err: err})
	} else {
		record(StepArchiveSession, nil)
	}
	result.Session = session

	m.mu.Lock()
	m.current = &session
	m.state = models.SessionEnded
	m.ending = false
	m.mu.Unlock()

	logEvent(m.opts.Events, "session.ended", map[string]any{
		"session_id": session.ID,
		"duration":   FormatDuration(summary.Duration),
		"records":    len(session.KnowledgeRefs),
		"errors":     len(result.Errors),
	})
	return result, nil
}

func (m *sessionManager) Record(kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	sid := ""
	if m.state == models.SessionActive && m.current != nil {
		sid = m.current.ID
	}
	m.mu.Unlock()

	rec, err := m.knowledge.RecordFor(sid, kind, fields, category)
	if err != nil || sid == "" {
		return rec, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID == sid {
		m.current.KnowledgeRefs = append(m.current.KnowledgeRefs, rec.ID)
		var noActive *NoActiveSessionError
		if err := m.persistLocked("record"); err != nil && !errors.As(err, &noActive) {
			// The record itself is durable; only the back-reference is stale.
			logEvent(m.opts.Events, "session.lock_write.failed", map[string]any{
				"session_id": sid,
				"error":      err.Error(),
			})
		}
	}
	return rec, nil
}

func (m *sessionManager) Search(query, category string, limit int, minSimilarity float64) ([]models.ScoredRecord, error) {
	return m.knowledge.Search(query, category, limit, minSimilarity)
}

func (m *sessionManager) Cleanup(ctx context.Context, dryRun bool) (*models.CleanupReport, error) {
	m.mu.Lock()
	ending := m.ending
	m.mu.Unlock()
	if ending {
		return nil, &SessionBusyError{Op: "cleanup"}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.cleanup == nil {
		return &models.CleanupReport{DryRun: dryRun}, nil
	}
	return m.cleanup.Run(ctx, m.opts.ProjectRoot, dryRun)
}

func (m *sessionManager) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := models.SessionStatus{Active: m.state == models.SessionActive}
	if m.current == nil {
		return st
	}
	s := copySession(*m.current)
	st.Session = &s
	st.KnowledgeCount = len(s.KnowledgeRefs)
	switch {
	case st.Active:
		st.Duration = m.opts.Clock.Now().Sub(s.StartedAt)
	case s.EndedAt != nil:
		st.Duration = s.EndedAt.Sub(s.StartedAt)
	}
	return st
}

func (m *sessionManager) History() ([]models.Session, error) {
	sessions, err := m.store.ListArchived()
	if err != nil {
		return nil, &StorageError{Op: "listing archived sessions", Err: err}
	}
	return sessions, nil
}

func (m *sessionManager) Close() {
	m.mu.Lock()
	hb := m.hb
	m.hb = nil
	m.mu.Unlock()
	if hb != nil {
		hb.Stop()
	}
}

// persistLocked merges the lock into the current session and writes it back.
// When the lock no longer belongs to the current session, the session was
// ended by another process and nothing is written. m.mu must be held.
func (m *sessionManager) persistLocked(op string) error {
	if !m.syncLockLocked() {
		return m.endedElsewhereLocked(op)
	}
	if err := m.store.SaveLock(copySession(*m.current)); err != nil {
		return &StorageError{Op: "writing session lock", Err: err}
	}
	return nil
}

// syncLockLocked folds knowledge refs written to the lock by other processes
// into the current session. It reports false when the lock is gone or holds
// another session. An unreadable lock is left for the next write to replace.
// m.mu must be held.
func (m *sessionManager) syncLockLocked() bool {
	lock, err := m.store.LoadLock()
	if err != nil {
		return true
	}
	if lock == nil || lock.ID != m.current.ID {
		return false
	}
	m.current.KnowledgeRefs = mergeRefs(lock.KnowledgeRefs, m.current.KnowledgeRefs)
	if lock.LastCheckpointAt != nil && (m.current.LastCheckpointAt == nil || lock.LastCheckpointAt.After(*m.current.LastCheckpointAt)) {
		at := *lock.LastCheckpointAt
		m.current.LastCheckpointAt = &at
	}
	return true
}

// endedElsewhereLocked marks the current session as ended by another process
// and cancels the heartbeat without waiting for it, since the caller may be
// the heartbeat itself. m.mu must be held.
func (m *sessionManager) endedElsewhereLocked(op string) error {
	if m.state == models.SessionActive {
		m.state = models.SessionEnded
		if m.hb != nil {
			m.hb.Cancel()
		}
		logEvent(m.opts.Events, "session.ended_elsewhere", map[string]any{"session_id": m.current.ID})
	}
	return &NoActiveSessionError{Op: op}
}

// mergeRefs returns base followed by the entries of extra not in base.
func mergeRefs(base, extra []string) []string {
	out := append([]string{}, base...)
	seen := make(map[string]struct{}, len(base))
	for _, id := range base {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (m *sessionManager) externalFailed(step string, err error) {
	logEvent(m.opts.Events, "external.failed", map[string]any{
		"step":  step,
		"error": err.Error(),
	})
}

func copySession(s models.Session) models.Session {
	s.KnowledgeRefs = append([]string{}, s.KnowledgeRefs...)
	return s
}

func newSessionID(now time.Time) string {
	return now.UTC().Format("2006-01-02T15-04-05Z") + "-" + uuid.NewString()[:8]
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// NormalizeProject derives the project identifier from the project root:
// its lowercased base name with everything but letters and digits removed.
func NormalizeProject(root string) string {
	name := nonAlnum.ReplaceAllString(strings.ToLower(filepath.Base(filepath.Clean(root))), "")
	if name == "" {
		return "project"
	}
	return name
}
