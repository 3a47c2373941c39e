package connection

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"time"
)

// Local runs commands with "sh -c <cmd>" (or "cmd.exe /C <cmd>" on Windows),
// the shell-equivalent context spec §4.1 requires. Grounded on the
// teacher's pkg/providers/cli.go RealExecutor.Execute, which uses
// exec.CommandContext and distinguishes a transport failure (exec not
// found) from a non-zero exit via *exec.ExitError.
type Local struct{}

// NewLocal constructs the Local backend. Setup/Teardown/Close are no-ops:
// there is no persistent channel to establish or release.
func NewLocal() *Local { return &Local{} }

func (l *Local) Setup(ctx context.Context) error    { return nil }
func (l *Local) Teardown(ctx context.Context) error { return nil }
func (l *Local) Close() error                       { return nil }

func (l *Local) Execute(ctx context.Context, cmdStr string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd.exe", "/C", cmdStr)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", cmdStr)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()}, nil
	}

	// Anything else (shell binary missing, permission denied to spawn) is a
	// transport failure, not a command-level failure.
	return Result{}, err
}
