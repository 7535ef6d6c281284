package stageexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"solasola/internal/logging"
	"solasola/internal/services"
)

// DefaultGrace is the SIGTERM-to-SIGKILL window used on cancellation.
const DefaultGrace = 5 * time.Second

// Command describes one external stage invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
	// ErrorArtifact is where the stage writes {error, details, traceback}
	// before exiting non-zero. Optional.
	ErrorArtifact string
}

// Tool returns the short label used in logs and errors.
func (c Command) Tool() string {
	return filepath.Base(strings.TrimSpace(c.Name))
}

// Options tunes a single run.
type Options struct {
	// OnLine receives each non-empty stdout line, split on '\r' or '\n'.
	OnLine func(string)
	// OnStderrLine receives stderr lines the same way. Tools that draw
	// progress bars usually write them to stderr.
	OnStderrLine func(string)
	// Attach is called once the process has started.
	Attach func(*Process)
	// Detach is called after the process has exited.
	Detach func()
	Logger *slog.Logger
	Grace  time.Duration
}

// Runner has the signature of Run so callers can substitute a fake.
type Runner func(ctx context.Context, cmd Command, opts Options) error

// Process is a running stage.
type Process struct {
	pid  int
	done chan struct{}
}

// PID returns the process (and process group) id.
func (p *Process) PID() int { return p.pid }

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate sends SIGTERM to the process group, waits up to grace for it to
// exit, then sends SIGKILL.
func (p *Process) Terminate(grace time.Duration) error {
	if p == nil || p.Exited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if err := signalGroup(p.pid, unix.SIGTERM); err != nil {
		return err
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}
	return signalGroup(p.pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal process group %d: %w", pid, err)
}

// Run starts cmd, streams its output, and waits for it to exit. A cancelled
// ctx terminates the whole process group and yields an ErrCancelled error.
func Run(ctx context.Context, cmd Command, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tool := cmd.Tool()
	if tool == "" || tool == "." {
		return services.Wrap(services.ErrConfiguration, "stageexec", "run", "command name is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, tool, "run", "cancelled before start", err)
	}

	logger := logging.WithContext(ctx, logging.NewComponentLogger(opts.Logger, "stageexec")).
		With(logging.String("tool", tool))
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	if cmd.ErrorArtifact != "" {
		_ = os.Remove(cmd.ErrorArtifact)
	}

	proc := exec.Command(cmd.Name, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), cmd.Env...)
	}
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr := newTailBuffer(StderrLimit)
	proc.Stderr = stderr
	var stderrLines *lineWriter
	if opts.OnStderrLine != nil {
		stderrLines = &lineWriter{fn: opts.OnStderrLine}
		proc.Stderr = io.MultiWriter(stderr, stderrLines)
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, tool, "stdout pipe", "", err)
	}

	started := time.Now()
	if err := proc.Start(); err != nil {
		return services.Wrap(services.ErrExternalTool, tool, "start", "could not start "+tool, err)
	}
	handle := &Process{pid: proc.Process.Pid, done: make(chan struct{})}
	logger.Debug("stage process started",
		logging.Int("pid", handle.pid),
		logging.String("args", strings.Join(cmd.Args, " ")),
	)
	if opts.Attach != nil {
		opts.Attach(handle)
	}
	if opts.Detach != nil {
		defer opts.Detach()
	}

	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			if err := handle.Terminate(grace); err != nil {
				logger.Warn("terminate stage failed", logging.Error(err))
			}
		case <-handle.done:
		}
	}()

	tail := &lineTail{n: stdoutTailLines}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.add(line)
		if opts.OnLine != nil {
			opts.OnLine(line)
		}
	}
	scanErr := scanner.Err()

	waitErr := proc.Wait()
	close(handle.done)
	if stderrLines != nil {
		stderrLines.flush()
	}
	watcher.Wait()

	elapsed := time.Since(started)
	if ctx.Err() != nil {
		logger.Info("stage cancelled", logging.Duration("elapsed", elapsed))
		return services.Wrap(services.ErrCancelled, tool, "run", "stage cancelled", ctx.Err())
	}
	if waitErr == nil && scanErr != nil {
		return services.Wrap(services.ErrExternalTool, tool, "read output", "", scanErr)
	}
	if waitErr == nil {
		logger.Debug("stage process finished", logging.Duration("elapsed", elapsed))
		return nil
	}

	stageErr := &StageError{Tool: tool, ExitCode: -1, Output: tail.String()}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		stageErr.ExitCode = exitErr.ExitCode()
	}
	stderrText := stderr.String()
	if cmd.ErrorArtifact != "" {
		if artifact, err := ReadErrorArtifact(cmd.ErrorArtifact); err == nil {
			stageErr.Message = artifact.Error
			stageErr.Details = artifact.Details
			if artifact.Traceback != "" {
				logger.Debug("stage traceback", logging.String("traceback", artifact.Traceback))
			}
		}
	}
	if stageErr.Message == "" {
		stageErr.Message = lastLine(stderrText)
	}
	if stageErr.Message == "" {
		stageErr.Message = lastLine(stageErr.Output)
	}
	if stageErr.Details == "" {
		stageErr.Details = strings.TrimSpace(stderrText)
	}

	logging.ErrorWithContext(logger, "stage process failed", "stage_failure",
		logging.Int("exit_code", stageErr.ExitCode),
		logging.String("error_message", stageErr.Message),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldErrorHint, "inspect the stage stderr in the log for the root cause"),
	)
	return stageErr
}
