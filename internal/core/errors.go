package core

import (
	"fmt"
	"strings"

	"github.com/valter-silva-au/devassist/pkg/models"
)

// ValidationError reports a malformed knowledge record submission.
type ValidationError struct {
	Kind   models.KnowledgeKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s record: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s record: field %q %s", e.Kind, e.Field, e.Reason)
}

// AlreadyActiveError is returned by Start when a session is already active
// in this process.
type AlreadyActiveError struct {
	SessionID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("session %s is already active", e.SessionID)
}

// NoActiveSessionError is returned when an operation requires an active session.
type NoActiveSessionError struct {
	Op string
}

func (e *NoActiveSessionError) Error() string {
	return fmt.Sprintf("%s: no active session", e.Op)
}

// SessionBusyError is returned when an operation would overlap an
// end-of-session sequence already in flight.
type SessionBusyError struct {
	Op string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("%s: session is ending", e.Op)
}

// ExternalToolError wraps a failed or timed-out external process call. It is
// recorded in reports and events, never returned from session operations.
type ExternalToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	cmd := strings.TrimSpace(e.Tool + " " + strings.Join(e.Args, " "))
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", cmd, e.Err, strings.TrimSpace(e.Output))
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// StorageError wraps a disk I/O failure on the durable stores.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
