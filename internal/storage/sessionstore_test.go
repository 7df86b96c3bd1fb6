package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
)

func testSession(id string, started time.Time) models.Session {
	return models.Session{
		ID:            id,
		Project:       "demo",
		State:         models.SessionActive,
		Description:   "refactor auth",
		StartedAt:     started,
		GitBranch:     "feature/auth",
		KnowledgeRefs: []string{"ckpt-1"},
	}
}

func TestFileSessionStore_LockRoundTrip(t *testing.T) {
	store := NewFileSessionStore(afero.NewMemMapFs(), "/proj", ".devassist")

	got, err := store.LoadLock()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no lock, got %+v", got)
	}

	s := testSession("S1", time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err := store.SaveLock(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err = store.LoadLock()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != "S1" || got.GitBranch != "feature/auth" || len(got.KnowledgeRefs) != 1 {
		t.Errorf("unexpected lock contents: %+v", got)
	}
	if store.LockPath() != filepath.Join("/proj", ".devassist", "sessions", "current.json") {
		t.Errorf("unexpected lock path %s", store.LockPath())
	}
}

func TestFileSessionStore_LoadLockCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	if err := afero.WriteFile(fs, store.LockPath(), []byte("{garbage"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.LoadLock(); err == nil {
		t.Fatal("expected error for corrupt lock")
	}

	dest, err := store.QuarantineLock()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dest), "corrupt-") || filepath.Ext(dest) != ".json" {
		t.Errorf("unexpected quarantine path %s", dest)
	}
	if ok, _ := afero.Exists(fs, store.LockPath()); ok {
		t.Error("expected lock to be gone after quarantine")
	}
	got, err := store.LoadLock()
	if err != nil || got != nil {
		t.Errorf("expected no lock after quarantine, got %+v, %v", got, err)
	}
}

func TestFileSessionStore_ArchiveRemovesLock(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	s := testSession("S1", time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	if err := store.SaveLock(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.State = models.SessionCrashed
	if err := store.ArchiveSession(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, _ := afero.Exists(fs, store.LockPath()); ok {
		t.Error("expected lock to be removed")
	}

	archived, err := store.ListArchived()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(archived) != 1 || archived[0].State != models.SessionCrashed {
		t.Errorf("expected one crashed session, got %+v", archived)
	}
}

func TestFileSessionStore_ListArchivedNewestFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"S1", "S3", "S2"} {
		offset := map[string]int{"S1": 0, "S2": 1, "S3": 2}[id]
		s := testSession(id, base.Add(time.Duration(offset)*time.Hour))
		s.State = models.SessionEnded
		if err := store.ArchiveSession(s); err != nil {
			t.Fatalf("archive %d: unexpected error: %v", i, err)
		}
	}
	// Quarantined locks are not sessions.
	_ = afero.WriteFile(fs, filepath.Join("/proj/.devassist/sessions/archive", "corrupt-1.json"), []byte("x"), 0o644)

	got, err := store.ListArchived()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(got))
	}
	for i, want := range []string{"S3", "S2", "S1"} {
		if got[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}
}

func TestFileSessionStore_SaveCheckpoint(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	at := time.UnixMilli(1717228800123).UTC()

	err := store.SaveCheckpoint(models.Checkpoint{SessionID: "S1", RecordID: "ckpt-1", Summary: "wired login", CreatedAt: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := "/proj/.devassist/sessions/checkpoints/checkpoint_1717228800123_ckpt-1.json"
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("expected checkpoint file: %v", err)
	}
	if !strings.Contains(string(data), "wired login") {
		t.Errorf("expected summary in checkpoint file, got %s", data)
	}
}

func TestFileSessionStore_SaveCheckpointSameMillisecond(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	at := time.UnixMilli(1717228800123).UTC()

	for _, cp := range []models.Checkpoint{
		{SessionID: "S1", RecordID: "ckpt-1", Summary: "first", CreatedAt: at},
		{SessionID: "S1", RecordID: "ckpt-2", Summary: "second", CreatedAt: at},
	} {
		if err := store.SaveCheckpoint(cp); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	infos, err := afero.ReadDir(fs, "/proj/.devassist/sessions/checkpoints")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 2 {
		t.Errorf("expected both checkpoints to be kept, got %d files", len(infos))
	}
}

func TestFileSessionStore_PrependHistory(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")

	if err := store.PrependHistory("### Session one\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.PrependHistory("### Session two\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := afero.ReadFile(fs, "/proj/PROJECT_SESSIONS.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "# Project Sessions") {
		t.Errorf("expected header first, got %q", content)
	}
	one := strings.Index(content, "### Session one")
	two := strings.Index(content, "### Session two")
	if one < 0 || two < 0 || two > one {
		t.Errorf("expected newest entry first, got %q", content)
	}
	if strings.Count(content, "### Session") != 2 {
		t.Errorf("expected exactly 2 entries, got %q", content)
	}
}

func TestFileSessionStore_PrependHistoryWithoutSeparator(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileSessionStore(fs, "/proj", ".devassist")
	if err := afero.WriteFile(fs, store.HistoryPath(), []byte("# Notes\n\nhand written\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.PrependHistory("### Session one"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := afero.ReadFile(fs, store.HistoryPath())
	content := string(data)
	if !strings.HasPrefix(content, "# Notes\n\nhand written\n") {
		t.Errorf("expected existing content kept, got %q", content)
	}
	if !strings.Contains(content, "---\n\n### Session one") {
		t.Errorf("expected entry after a new separator, got %q", content)
	}
}

func TestFileSessionStore_OnDisk(t *testing.T) {
	root := t.TempDir()
	store := NewFileSessionStore(afero.NewOsFs(), root, ".devassist")
	if err := store.SaveLock(testSession("S1", time.Now().UTC())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".devassist", "sessions", "current.json")); err != nil {
		t.Errorf("expected lock on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".devassist", "sessions", "current.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("expected temp file to be renamed away, got %v", err)
	}
}
