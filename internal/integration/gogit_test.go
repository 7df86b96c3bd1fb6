package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/valter-silva-au/devassist/internal/core"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return dir, repo
}

func TestNativeGit_EmptyRepository(t *testing.T) {
	dir, _ := initRepo(t)
	g := NewNativeGit(dir, time.Second, nil)

	branch, err := g.CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "master" {
		t.Errorf("branch = %q, want master", branch)
	}
}

func TestNativeGit_StatusAndBranch(t *testing.T) {
	dir, repo := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("tracked.txt"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@local", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Queries from a subdirectory still find the repository.
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	g := NewNativeGit(sub, time.Second, nil)

	branch, err := g.CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if branch != "master" {
		t.Errorf("branch = %q, want master", branch)
	}

	status, err := g.ShortStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "?? new.txt\n M tracked.txt"
	if status != want {
		t.Errorf("status = %q, want %q", status, want)
	}
}

func TestNativeGit_NotARepository(t *testing.T) {
	g := NewNativeGit(t.TempDir(), time.Second, nil)
	_, err := g.CurrentBranch(context.Background())
	var toolErr *core.ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ExternalToolError, got %v", err)
	}
}

func TestBounded_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, err := bounded(context.Background(), 20*time.Millisecond, "slow", func() (string, error) {
		<-release
		return "", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
