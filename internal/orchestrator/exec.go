package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ExitNotStarted is reported for a command that could not be started.
const ExitNotStarted = 127

// CommandRunner runs argv in dir to completion and returns its exit code. A
// non-nil error means the process never ran.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (int, error)
}

// ProcessRunner executes commands as child processes. There is no timeout:
// a command that never exits blocks the run until ctx is canceled.
type ProcessRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
}

func (p ProcessRunner) Run(ctx context.Context, dir string, argv []string) (int, error) {
	if len(argv) == 0 {
		return ExitNotStarted, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	if err := cmd.Start(); err != nil {
		return ExitNotStarted, fmt.Errorf("start %s: %w", argv[0], err)
	}
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = 1
		}
		return code, nil
	}
	return 1, nil
}
