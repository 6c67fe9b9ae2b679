package screener

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

// killGrace is how long after the budget the graceful signal is sent, and
// again how long the process gets to exit before it is killed.
const killGrace = time.Second

// ProcessSpec describes one scan process launch.
type ProcessSpec struct {
	Path   string
	Args   []string
	Budget time.Duration
}

// ProcessRunner launches the scan process and waits for it.
// A non-nil error means the process could not be run at all.
type ProcessRunner interface {
	Run(ctx context.Context, spec ProcessSpec) (RunOutput, error)
}

// ExecRunner runs the scan as an OS process. At Budget+1s it receives
// SIGTERM; if still alive one second later it is killed.
type ExecRunner struct{}

// Run starts the process and collects its output.
func (ExecRunner) Run(ctx context.Context, spec ProcessSpec) (RunOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.Budget+killGrace)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	out := RunOutput{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || out.TimedOut || errors.Is(err, exec.ErrWaitDelay) {
			return out, nil
		}
		return out, err
	}
	return out, nil
}
