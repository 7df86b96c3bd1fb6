package cli

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/internal/core"
	"github.com/valter-silva-au/devassist/internal/storage"
	"github.com/valter-silva-au/devassist/pkg/models"
)

const testRoot = "/work/demo"

// captureStdout captures stdout output during fn execution.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = origStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	return string(out)
}

// useTestServices wires real managers over an in-memory filesystem into the
// package-level service variables and restores them after the test.
func useTestServices(t *testing.T) afero.Fs {
	t.Helper()

	origSessions, origKnowledge, origConfig, origWatcher := Sessions, KnowledgeMgr, Config, Watcher
	t.Cleanup(func() {
		Sessions, KnowledgeMgr, Config, Watcher = origSessions, origKnowledge, origConfig, origWatcher
	})

	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(testRoot, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	knowledgeDir := testRoot + "/.devassist/knowledge"

	km := core.NewKnowledgeManager(
		storage.NewJSONLKnowledgeLog(fs, knowledgeDir),
		storage.NewYAMLPreservationArchive(fs, knowledgeDir),
		"demo",
		core.KnowledgeOptions{Enrichers: []core.DomainEnricher{core.ArchitectureEnricher()}},
	)
	sm := core.NewSessionManager(
		storage.NewFileSessionStore(fs, testRoot, core.ConfigDir),
		km,
		core.NewCleanupEngine(fs, nil, core.CleanupOptions{}),
		nil,
		core.SessionOptions{ProjectRoot: testRoot, HeartbeatInterval: time.Hour, CleanupOnEnd: true},
	)
	t.Cleanup(sm.Close)

	Sessions = sm
	KnowledgeMgr = km
	Config = models.DefaultConfig()
	Watcher = nil
	return fs
}
