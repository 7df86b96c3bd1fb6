package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
	"gopkg.in/yaml.v3"
)

// HistoryFile is the continuous session history kept at the project root.
const HistoryFile = "PROJECT_SESSIONS.md"

const historySeparator = "---\n"

const historyHeader = "# Project Sessions\n\nContinuous development history, newest first.\n\n" + historySeparator

// FileSessionStore persists session state under <root>/.devassist/sessions.
// It satisfies core.SessionStore.
type FileSessionStore struct {
	fs   afero.Fs
	root string
	dir  string
}

// NewFileSessionStore creates a session store for the project at root.
// stateDir is the devassist directory name, usually ".devassist".
func NewFileSessionStore(fs afero.Fs, root, stateDir string) *FileSessionStore {
	return &FileSessionStore{
		fs:   fs,
		root: root,
		dir:  filepath.Join(root, stateDir, "sessions"),
	}
}

// LockPath returns the path of the active-session lock file.
func (s *FileSessionStore) LockPath() string {
	return filepath.Join(s.dir, "current.json")
}

func (s *FileSessionStore) archiveDir() string {
	return filepath.Join(s.dir, "archive")
}

func (s *FileSessionStore) checkpointDir() string {
	return filepath.Join(s.dir, "checkpoints")
}

// HistoryPath returns the path of PROJECT_SESSIONS.md.
func (s *FileSessionStore) HistoryPath() string {
	return filepath.Join(s.root, HistoryFile)
}

// LoadLock reads the lock file. A missing lock yields nil, nil.
func (s *FileSessionStore) LoadLock() (*models.Session, error) {
	data, err := afero.ReadFile(s.fs, s.LockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session lock: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parsing session lock: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("parsing session lock: missing id")
	}
	return &session, nil
}

// SaveLock atomically replaces the lock file with session.
func (s *FileSessionStore) SaveLock(session models.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session lock: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}
	return writeFileAtomic(s.fs, s.LockPath(), append(data, '\n'))
}

// ArchiveSession writes session to archive/<id>.yaml and removes the lock.
func (s *FileSessionStore) ArchiveSession(session models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("archiving session: ID must not be empty")
	}
	if err := s.fs.MkdirAll(s.archiveDir(), 0o755); err != nil {
		return fmt.Errorf("archiving session: creating directory: %w", err)
	}
	data, err := yaml.Marshal(&session)
	if err != nil {
		return fmt.Errorf("archiving session: encoding: %w", err)
	}
	path := filepath.Join(s.archiveDir(), session.ID+".yaml")
	if err := writeFileAtomic(s.fs, path, data); err != nil {
		return fmt.Errorf("archiving session: %w", err)
	}
	if err := s.fs.Remove(s.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archiving session: removing lock: %w", err)
	}
	return nil
}

// QuarantineLock moves an unreadable lock to archive/corrupt-<unixnano>.json.
func (s *FileSessionStore) QuarantineLock() (string, error) {
	if err := s.fs.MkdirAll(s.archiveDir(), 0o755); err != nil {
		return "", fmt.Errorf("quarantining lock: creating directory: %w", err)
	}
	dest := filepath.Join(s.archiveDir(), "corrupt-"+strconv.FormatInt(time.Now().UnixNano(), 10)+".json")
	if err := s.fs.Rename(s.LockPath(), dest); err != nil {
		return "", fmt.Errorf("quarantining lock: %w", err)
	}
	return dest, nil
}

// ListArchived returns archived sessions, newest first. Quarantined locks
// and unparseable entries are skipped.
func (s *FileSessionStore) ListArchived() ([]models.Session, error) {
	entries, err := afero.ReadDir(s.fs, s.archiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing archived sessions: %w", err)
	}

	var sessions []models.Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.archiveDir(), e.Name()))
		if err != nil {
			continue
		}
		var session models.Session
		if err := yaml.Unmarshal(data, &session); err != nil || session.ID == "" {
			continue
		}
		sessions = append(sessions, session)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

// SaveCheckpoint writes cp to checkpoints/checkpoint_<unixms>_<record id>.json.
func (s *FileSessionStore) SaveCheckpoint(cp models.Checkpoint) error {
	if err := s.fs.MkdirAll(s.checkpointDir(), 0o755); err != nil {
		return fmt.Errorf("saving checkpoint: creating directory: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("saving checkpoint: encoding: %w", err)
	}
	name := fmt.Sprintf("checkpoint_%d.json", cp.CreatedAt.UnixMilli())
	if cp.RecordID != "" {
		name = fmt.Sprintf("checkpoint_%d_%s.json", cp.CreatedAt.UnixMilli(), filepath.Base(cp.RecordID))
	}
	return writeFileAtomic(s.fs, filepath.Join(s.checkpointDir(), name), append(data, '\n'))
}

// PrependHistory inserts entry right after the header separator of
// PROJECT_SESSIONS.md so the newest session comes first. The file and its
// header are created when missing.
func (s *FileSessionStore) PrependHistory(entry string) error {
	existing, err := afero.ReadFile(s.fs, s.HistoryPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", HistoryFile, err)
	}

	content := string(existing)
	if content == "" {
		content = historyHeader
	}

	var head, rest string
	if idx := strings.Index(content, historySeparator); idx >= 0 {
		head = content[:idx+len(historySeparator)]
		rest = strings.TrimLeft(content[idx+len(historySeparator):], "\n")
	} else {
		head = strings.TrimRight(content, "\n") + "\n\n" + historySeparator
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(entry, "\n"))
	b.WriteString("\n\n")
	b.WriteString(historySeparator)
	if rest != "" {
		b.WriteString("\n")
		b.WriteString(rest)
	}

	return writeFileAtomic(s.fs, s.HistoryPath(), []byte(b.String()))
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(fs afero.Fs, path string, data []byte) error {
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
