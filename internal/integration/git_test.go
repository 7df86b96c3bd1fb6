package integration

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/valter-silva-au/devassist/internal/core"
)

type call struct {
	args []string
	dir  string
}

// fakeExecutor returns canned results keyed by the joined argument list.
type fakeExecutor struct {
	calls   []call
	results map[string]*CLIExecResult
	errs    map[string]error
}

func (f *fakeExecutor) Exec(_ context.Context, cfg CLIExecConfig) (*CLIExecResult, error) {
	f.calls = append(f.calls, call{args: cfg.Args, dir: cfg.Dir})
	key := joinArgs(cfg.Args)
	if err := f.errs[key]; err != nil {
		return &CLIExecResult{ExitCode: -1}, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return &CLIExecResult{}, nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func TestExecGit_CurrentBranch(t *testing.T) {
	fake := &fakeExecutor{results: map[string]*CLIExecResult{
		"branch --show-current": {Stdout: "feature/login\n"},
	}}
	g := NewExecGit("/repo", 0, fake)

	branch, err := g.CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "feature/login" {
		t.Errorf("branch = %q, want %q", branch, "feature/login")
	}
	if fake.calls[0].dir != "/repo" {
		t.Errorf("dir = %q, want /repo", fake.calls[0].dir)
	}
}

func TestExecGit_NonZeroExit(t *testing.T) {
	fake := &fakeExecutor{results: map[string]*CLIExecResult{
		"status --short": {ExitCode: 128, Stderr: "fatal: not a git repository"},
	}}
	g := NewExecGit("/repo", 0, fake)

	_, err := g.ShortStatus(context.Background())
	var toolErr *core.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
	if toolErr.Tool != "git" || toolErr.Output != "fatal: not a git repository" {
		t.Errorf("unexpected error details: %+v", toolErr)
	}
}

func TestExecGit_Timeout(t *testing.T) {
	fake := &fakeExecutor{errs: map[string]error{"gc --prune=now": ErrTimeout}}
	g := NewExecGit("/repo", 0, fake)

	err := g.GC(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected wrapped ErrTimeout, got %v", err)
	}
}

func TestExecGit_SnapshotStoresStash(t *testing.T) {
	fake := &fakeExecutor{results: map[string]*CLIExecResult{
		"stash create checkpoint": {Stdout: "abc123\n"},
	}}
	g := NewExecGit("/repo", 0, fake)

	ref, err := g.Snapshot(context.Background(), "checkpoint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "abc123" {
		t.Errorf("ref = %q, want abc123", ref)
	}
	want := [][]string{
		{"stash", "create", "checkpoint"},
		{"stash", "store", "-m", "checkpoint", "abc123"},
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 git calls, got %d", len(fake.calls))
	}
	for i, w := range want {
		if !reflect.DeepEqual(fake.calls[i].args, w) {
			t.Errorf("call %d = %v, want %v", i, fake.calls[i].args, w)
		}
	}
}

func TestExecGit_SnapshotCleanTree(t *testing.T) {
	fake := &fakeExecutor{}
	g := NewExecGit("/repo", 0, fake)

	ref, err := g.Snapshot(context.Background(), "checkpoint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != "" {
		t.Errorf("ref = %q, want empty", ref)
	}
	if len(fake.calls) != 1 {
		t.Errorf("expected only stash create, got %d calls", len(fake.calls))
	}
}

func TestExecGit_Maintenance(t *testing.T) {
	fake := &fakeExecutor{}
	g := NewExecGit("/repo", 0, fake)

	if err := g.PruneRemote(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.GC(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if joinArgs(fake.calls[0].args) != "remote prune origin" || joinArgs(fake.calls[1].args) != "gc --prune=now" {
		t.Errorf("unexpected calls: %+v", fake.calls)
	}
}

var _ core.GitClient = (*ExecGit)(nil)
var _ core.GitClient = (*NativeGit)(nil)
