package integration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valter-silva-au/devassist/internal/core"
)

// ExecGit drives the git binary in a project directory. Every call is
// bounded by Timeout and failures come back as *core.ExternalToolError.
type ExecGit struct {
	Dir      string
	Timeout  time.Duration
	executor CLIExecutor
}

// NewExecGit creates a git client for dir using the given executor. A nil
// executor selects the default process runner.
func NewExecGit(dir string, timeout time.Duration, executor CLIExecutor) *ExecGit {
	if executor == nil {
		executor = NewCLIExecutor()
	}
	return &ExecGit{Dir: dir, Timeout: timeout, executor: executor}
}

func (g *ExecGit) run(ctx context.Context, args ...string) (string, error) {
	res, err := g.executor.Exec(ctx, CLIExecConfig{
		CLI:     "git",
		Args:    args,
		Dir:     g.Dir,
		Timeout: g.Timeout,
	})
	if err != nil {
		out := ""
		if res != nil {
			out = res.Stderr
		}
		return "", &core.ExternalToolError{Tool: "git", Args: args, Output: out, Err: err}
	}
	if res.ExitCode != 0 {
		return "", &core.ExternalToolError{
			Tool:   "git",
			Args:   args,
			Output: res.Stderr,
			Err:    fmt.Errorf("exit code %d", res.ExitCode),
		}
	}
	return res.Stdout, nil
}

// CurrentBranch returns the checked-out branch, or "" on a detached HEAD.
func (g *ExecGit) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ShortStatus returns `git status --short` with trailing whitespace removed.
func (g *ExecGit) ShortStatus(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "status", "--short")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// Snapshot records the working tree with `git stash create` and keeps the
// resulting commit reachable with `git stash store`. The working tree is
// left untouched. A clean tree yields "".
func (g *ExecGit) Snapshot(ctx context.Context, message string) (string, error) {
	out, err := g.run(ctx, "stash", "create", message)
	if err != nil {
		return "", err
	}
	ref := strings.TrimSpace(out)
	if ref == "" {
		return "", nil
	}
	if _, err := g.run(ctx, "stash", "store", "-m", message, ref); err != nil {
		return ref, err
	}
	return ref, nil
}

// PruneRemote runs `git remote prune origin`.
func (g *ExecGit) PruneRemote(ctx context.Context) error {
	_, err := g.run(ctx, "remote", "prune", "origin")
	return err
}

// GC runs `git gc --prune=now`.
func (g *ExecGit) GC(ctx context.Context) error {
	_, err := g.run(ctx, "gc", "--prune=now")
	return err
}
