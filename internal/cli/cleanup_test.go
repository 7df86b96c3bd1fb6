package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/valter-silva-au/devassist/pkg/models"
)

func TestCleanupCmd_NilManager(t *testing.T) {
	orig := Sessions
	defer func() { Sessions = orig }()
	Sessions = nil

	err := cleanupCmd.RunE(cleanupCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("expected not initialized error, got %v", err)
	}
}

func TestCleanupCmd_DryRunThenLive(t *testing.T) {
	fs := useTestServices(t)
	origDry, origJSON := cleanupDryRun, cleanupJSON
	defer func() { cleanupDryRun, cleanupJSON = origDry, origJSON }()

	files := map[string]string{
		"/app.log":      "0123456789",
		"/notes.tmp":    "x",
		"/package.json": "{}",
		"/go.mod":       "module demo",
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, testRoot+name, []byte(content), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	cleanupDryRun = true
	out := captureStdout(t, func() {
		if err := cleanupCmd.RunE(cleanupCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	if !strings.Contains(out, "Dry run") || !strings.Contains(out, "Items removed:     2") {
		t.Errorf("unexpected dry-run output: %q", out)
	}
	if ok, _ := afero.Exists(fs, testRoot+"/app.log"); !ok {
		t.Fatal("dry run must not delete files")
	}

	cleanupDryRun = false
	cleanupJSON = true
	out = captureStdout(t, func() {
		if err := cleanupCmd.RunE(cleanupCmd, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
	var report models.CleanupReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if report.FilesDeleted != 2 || report.BytesFreed != 11 {
		t.Errorf("unexpected report: %+v", report)
	}
	for _, kept := range []string{"/package.json", "/go.mod"} {
		if ok, _ := afero.Exists(fs, testRoot+kept); !ok {
			t.Errorf("%s must be kept", kept)
		}
	}
}
