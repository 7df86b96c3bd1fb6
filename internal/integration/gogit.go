package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/valter-silva-au/devassist/internal/core"
)

// NativeGit answers branch and status queries in-process with go-git and
// delegates mutating commands (stash, prune, gc) to the git binary.
type NativeGit struct {
	*ExecGit
}

// NewNativeGit creates a NativeGit for dir.
func NewNativeGit(dir string, timeout time.Duration, executor CLIExecutor) *NativeGit {
	return &NativeGit{ExecGit: NewExecGit(dir, timeout, executor)}
}

func (g *NativeGit) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// CurrentBranch returns the short name of HEAD, "" when detached, and the
// configured initial branch name for a repository with no commits.
func (g *NativeGit) CurrentBranch(ctx context.Context) (string, error) {
	return bounded(ctx, g.Timeout, "branch", func() (string, error) {
		repo, err := g.open()
		if err != nil {
			return "", err
		}
		head, err := repo.Head()
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			ref, rerr := repo.Reference(plumbing.HEAD, false)
			if rerr != nil {
				return "", rerr
			}
			return ref.Target().Short(), nil
		}
		if err != nil {
			return "", fmt.Errorf("resolve HEAD: %w", err)
		}
		if !head.Name().IsBranch() {
			return "", nil
		}
		return head.Name().Short(), nil
	})
}

// ShortStatus renders the worktree status in `git status --short` form,
// sorted by path.
func (g *NativeGit) ShortStatus(ctx context.Context) (string, error) {
	return bounded(ctx, g.Timeout, "status", func() (string, error) {
		repo, err := g.open()
		if err != nil {
			return "", err
		}
		wt, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("get worktree: %w", err)
		}
		status, err := wt.Status()
		if err != nil {
			return "", fmt.Errorf("worktree status: %w", err)
		}
		return formatStatus(status), nil
	})
}

func formatStatus(status git.Status) string {
	paths := make([]string, 0, len(status))
	for path, fs := range status {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	lines := make([]string, 0, len(paths))
	for _, path := range paths {
		fs := status[path]
		lines = append(lines, fmt.Sprintf("%c%c %s", fs.Staging, fs.Worktree, path))
	}
	return strings.Join(lines, "\n")
}

// bounded runs fn in a goroutine and gives up when ctx or timeout expires.
func bounded(ctx context.Context, timeout time.Duration, step string, fn func() (string, error)) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := fn()
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", &core.ExternalToolError{Tool: "go-git", Args: []string{step}, Err: r.err}
		}
		return r.out, nil
	case <-ctx.Done():
		return "", &core.ExternalToolError{Tool: "go-git", Args: []string{step}, Err: ErrTimeout}
	}
}
