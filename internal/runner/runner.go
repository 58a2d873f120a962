// Package runner executes external tools (terraform, the aws CLI) as child
// processes. Arguments are always passed as an argv array, never through a
// shell, so template names and bucket identifiers cannot be used for
// injection.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/terraflow/internal/log"
)

const (
	// maxOutputBytes caps each captured output stream.
	maxOutputBytes = 256 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// CommandSpec describes one subprocess invocation.
type CommandSpec struct {
	Binary     string
	Subcommand string
	Args       []string
	Dir        string
	// Timeout bounds the whole run. Zero means no timeout.
	Timeout time.Duration
}

// CommandLine renders the full command for logs and results.
func (s CommandSpec) CommandLine() string {
	parts := append([]string{s.Binary, s.Subcommand}, s.Args...)
	return strings.Join(parts, " ")
}

// Result is the aggregated outcome of a completed subprocess.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError reports a subprocess that started but exited nonzero.
type ExitError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
}

// SpawnError reports a subprocess that never started (binary not found,
// permission denied). There is no exit code.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: spawn failed: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Runner executes CommandSpecs.
type Runner interface {
	Run(ctx context.Context, spec CommandSpec) (*Result, error)
}

type execRunner struct {
	logger *slog.Logger
}

var _ Runner = (*execRunner)(nil)

// New creates a Runner backed by os/exec.
func New() *execRunner {
	return &execRunner{
		logger: log.WithComponent("runner"),
	}
}

// Run starts the subprocess, streams its output to the log as it arrives,
// and resolves by exit code. On timeout or context cancellation the process
// gets SIGTERM, then SIGKILL after a grace period; the error wraps
// context.DeadlineExceeded or the context's error, and the returned Result
// carries the output captured up to termination with exit code -1.
func (r *execRunner) Run(ctx context.Context, spec CommandSpec) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmdLine := spec.CommandLine()
	logger := r.logger.With("command", cmdLine, "dir", spec.Dir)

	argv := append([]string{spec.Subcommand}, spec.Args...)
	// Termination is managed below, not by CommandContext, so SIGTERM can
	// run ahead of SIGKILL.
	cmd := exec.Command(spec.Binary, argv...)
	cmd.Dir = spec.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &teeWriter{buf: &stdout, logger: logger, stream: "stdout"}
	cmd.Stderr = &teeWriter{buf: &stderr, logger: logger, stream: "stderr"}

	logger.Debug("spawning subprocess", "timeout", spec.Timeout)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: cmdLine, Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-timeoutCh:
		logger.Warn("subprocess timed out, terminating", "timeout", spec.Timeout)
		r.terminate(cmd, waitErr, logger)
		return partialResult(cmdLine, &stdout, &stderr), fmt.Errorf("%s: timed out after %v: %w", cmdLine, spec.Timeout, context.DeadlineExceeded)

	case <-ctx.Done():
		logger.Warn("context cancelled, terminating subprocess")
		r.terminate(cmd, waitErr, logger)
		return partialResult(cmdLine, &stdout, &stderr), fmt.Errorf("%s: %w", cmdLine, ctx.Err())

	case err := <-waitErr:
		result := &Result{
			Command: cmdLine,
			Stdout:  truncate(stdout.String()),
			Stderr:  truncate(stderr.String()),
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
				logger.Warn("subprocess exited with non-zero status", "exit_code", result.ExitCode)
				return result, &ExitError{
					Command:  cmdLine,
					ExitCode: result.ExitCode,
					Stdout:   result.Stdout,
					Stderr:   result.Stderr,
				}
			}
			return nil, fmt.Errorf("wait for subprocess: %w", err)
		}

		logger.Debug("subprocess completed", "exit_code", 0)
		return result, nil
	}
}

// partialResult carries whatever the process wrote before it was killed.
// terminate has already drained waitErr by the time this runs, so the
// buffers are quiescent.
func partialResult(cmdLine string, stdout, stderr *bytes.Buffer) *Result {
	return &Result{
		Command:  cmdLine,
		ExitCode: -1,
		Stdout:   truncate(stdout.String()),
		Stderr:   truncate(stderr.String()),
	}
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func (r *execRunner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("subprocess exited after SIGTERM")
	case <-grace.C:
		logger.Warn("subprocess did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// teeWriter aggregates into buf and mirrors every chunk to the log at the
// point it is received.
type teeWriter struct {
	mu     sync.Mutex
	buf    *bytes.Buffer
	logger *slog.Logger
	stream string
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()

	for _, line := range strings.SplitAfter(string(p), "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if trimmed == "" {
			continue
		}
		w.logger.Debug("subprocess output", "stream", w.stream, "line", trimmed)
	}
	return len(p), nil
}

func truncate(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes]
	}
	return s
}
