package models

import "time"

// SessionState represents the lifecycle state of a working session.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionActive  SessionState = "active"
	SessionEnded   SessionState = "ended"
	SessionCrashed SessionState = "crashed"
)

// Session is one bounded unit of developer work against a project. The
// active session is persisted as JSON in the lock file; ended and crashed
// sessions are archived as YAML under their id.
type Session struct {
	ID               string       `json:"id" yaml:"id"`
	Project          string       `json:"project" yaml:"project"`
	State            SessionState `json:"state" yaml:"state"`
	Description      string       `json:"description,omitempty" yaml:"description,omitempty"`
	StartedAt        time.Time    `json:"started_at" yaml:"started_at"`
	EndedAt          *time.Time   `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	LastHeartbeatAt  *time.Time   `json:"last_heartbeat_at,omitempty" yaml:"last_heartbeat_at,omitempty"`
	LastCheckpointAt *time.Time   `json:"last_checkpoint_at,omitempty" yaml:"last_checkpoint_at,omitempty"`
	GitBranch        string       `json:"git_branch" yaml:"git_branch"`
	InitialStatus    string       `json:"initial_status" yaml:"initial_status"`
	KnowledgeRefs    []string     `json:"knowledge_refs" yaml:"knowledge_refs"`
	RecoveredFrom    string       `json:"recovered_from,omitempty" yaml:"recovered_from,omitempty"`
}

// Checkpoint is the snapshot written next to the lock file on every
// checkpoint when snapshots are enabled.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	RecordID  string    `json:"record_id"`
	Summary   string    `json:"summary"`
	Branch    string    `json:"branch,omitempty"`
	StashRef  string    `json:"stash_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the human-readable roll-up produced when a session ends.
type SessionSummary struct {
	SessionID   string                `json:"session_id" yaml:"session_id"`
	Project     string                `json:"project" yaml:"project"`
	Branch      string                `json:"branch" yaml:"branch"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	StartedAt   time.Time             `json:"started_at" yaml:"started_at"`
	EndedAt     time.Time             `json:"ended_at" yaml:"ended_at"`
	Duration    time.Duration         `json:"duration" yaml:"duration"`
	Counts      map[KnowledgeKind]int `json:"counts" yaml:"counts"`
	Highlights  []string              `json:"highlights" yaml:"highlights"`
	Checkpoints []string              `json:"checkpoints,omitempty" yaml:"checkpoints,omitempty"`
	Report      string                `json:"report" yaml:"-"`
}

// StepResult records the outcome of one step of the end-of-session pipeline.
type StepResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EndResult aggregates every step of the end-of-session pipeline. Steps run
// in order and a failing step never prevents the following ones.
type EndResult struct {
	Session      Session             `json:"session"`
	Summary      *SessionSummary     `json:"summary,omitempty"`
	Preservation *PreservationRecord `json:"preservation,omitempty"`
	Cleanup      *CleanupReport      `json:"cleanup,omitempty"`
	Steps        []StepResult        `json:"steps"`
	Errors       []string            `json:"errors,omitempty"`
}

// SessionStatus is a point-in-time view of the session manager.
type SessionStatus struct {
	Active         bool          `json:"active"`
	Session        *Session      `json:"session,omitempty"`
	Duration       time.Duration `json:"duration"`
	KnowledgeCount int           `json:"knowledge_count"`
}
