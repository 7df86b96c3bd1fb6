package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single external process call.
const DefaultTimeout = 5 * time.Second

// CLIExecConfig holds all parameters needed to execute an external CLI tool.
type CLIExecConfig struct {
	CLI     string
	Args    []string
	Dir     string
	Timeout time.Duration
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// CLIExecResult captures the outcome of an external CLI invocation.
type CLIExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// ErrTimeout is returned when a command is killed because its timeout expired.
var ErrTimeout = errors.New("timed out")

// CLIExecutor runs external processes with a bounded lifetime.
type CLIExecutor interface {
	// Exec runs the command and waits for it. A non-zero exit code is not an
	// error; a command that cannot start or that times out is.
	Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error)
}

type cliExecutor struct{}

// NewCLIExecutor creates a new CLIExecutor.
func NewCLIExecutor() CLIExecutor {
	return &cliExecutor{}
}

// Exec runs config.CLI under context.WithTimeout. Output is always captured
// for the result and also teed to the provided writers when set.
func (e *cliExecutor) Exec(ctx context.Context, config CLIExecConfig) (*CLIExecResult, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, config.CLI, config.Args...)
	cmd.Dir = config.Dir
	cmd.Env = os.Environ()

	var stdoutBuf, stderrBuf bytes.Buffer
	if config.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdoutBuf, config.Stdout)
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if config.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderrBuf, config.Stderr)
	} else {
		cmd.Stderr = &stderrBuf
	}
	if config.Stdin != nil {
		cmd.Stdin = config.Stdin
	}

	err := cmd.Run()

	result := &CLIExecResult{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, fmt.Errorf("executing %s: %w after %s", config.CLI, ErrTimeout, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Command could not be started (e.g., not found) or was cancelled.
		return result, fmt.Errorf("executing %s: %w", config.CLI, err)
	}
	return result, nil
}
