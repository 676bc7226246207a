package toolchain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logging"
)

// Outcome describes how a single step ended.
type Outcome struct {
	Step     int
	Command  string
	Args     []string
	ExitCode int
	Signal   string
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Canceled is set when the step was killed because its context ended.
	Canceled bool
	// Err is nil on success, a spawn error when the process never started
	// and a step error otherwise.
	Err error
}

// Succeeded reports whether the step exited normally with code 0.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Output returns stdout followed by stderr, the text handed to log parsing.
func (o Outcome) Output() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	if o.Stdout == "" {
		return o.Stderr
	}
	return o.Stdout + "\n" + o.Stderr
}

// Runner spawns toolchain steps.
type Runner struct {
	logger logging.Logger
	// Live, when set, receives process output as it is produced.
	Live io.Writer
	// waitDelay bounds how long output is drained after the process exits
	// or is killed.
	waitDelay time.Duration
}

// NewRunner creates a runner.
func NewRunner(logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{logger: logger.WithComponent("toolchain"), waitDelay: 5 * time.Second}
}

// Run executes step in dir and blocks until the process has exited. Ending
// ctx kills the process group; Run still waits for the process to be reaped
// before returning.
func (r *Runner) Run(ctx context.Context, dir string, index int, step Step) Outcome {
	outcome := Outcome{
		Step:    index,
		Command: step.Command,
		Args:    append([]string{}, step.Args...),
	}

	cmd := exec.CommandContext(ctx, step.Command, step.Args...)
	cmd.Dir = dir
	configureProcess(cmd)
	cmd.WaitDelay = r.waitDelay

	stdout := &outputBuffer{live: r.Live}
	stderr := &outputBuffer{live: r.Live}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Debug(ctx, "Spawning step", "step", index, "command", step.String(), "dir", dir)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		outcome.ExitCode = -1
		outcome.Err = texerrors.NewSpawnError(step.Command, err, stderr.String())
		return outcome
	}

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)
	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	outcome.Canceled = ctx.Err() != nil

	if waitErr == nil {
		return outcome
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// A background child still holds the output pipes open.
		r.logger.Warn(ctx, waitErr, "Step exited but its output stayed open", "step", index, "command", step.Command)
		return outcome
	}

	outcome.ExitCode = -1
	if state := cmd.ProcessState; state != nil {
		outcome.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			outcome.Signal = ws.Signal().String()
		}
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) && outcome.ExitCode == 0 {
		// Output copying failed after a clean exit.
		outcome.ExitCode = -1
	}

	stepErr := texerrors.NewStepError(step.Command, outcome.ExitCode, outcome.Signal)
	stepErr.Cause = waitErr
	if outcome.Signal != "" && outcome.Stdout != "" {
		stepErr.WithContext("stdout", outcome.Stdout)
	}
	outcome.Err = stepErr
	return outcome
}

// outputBuffer accumulates process output, optionally mirroring it.
type outputBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	live io.Writer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live != nil {
		_, _ = b.live.Write(p)
	}
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
