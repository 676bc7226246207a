package session

import (
	"context"
	"fmt"
	"path/filepath"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/paths"
	"github.com/conneroisu/texwork/internal/toolchain"
)

// build is one run of the toolchain against a root file.
type build struct {
	id      uint64
	reason  string
	root    string
	dir     string
	steps   []toolchain.Step
	waiters []chan Result
}

func (b *build) finish(r Result) {
	r.Build = b.id
	if r.Root == "" {
		r.Root = b.root
	}
	for _, w := range b.waiters {
		w <- r
	}
	b.waiters = nil
}

// activeStep is the child process currently owned by the session.
type activeStep struct {
	build  uint64
	index  int
	cancel context.CancelFunc
	result chan toolchain.Outcome
}

func (s *Session) activeResult() <-chan toolchain.Outcome {
	if s.active == nil {
		return nil
	}
	return s.active.result
}

func (s *Session) startBuild(ctx context.Context, req buildRequest) {
	reply := func(r Result) {
		if req.reply != nil {
			req.reply <- r
		}
	}

	rootFile, ok := s.resolve(ctx)
	if !ok {
		s.logger.Info(ctx, "Cannot find root file, nothing to build")
		reply(Result{State: StateIdle, Err: texerrors.NewResolutionError("cannot find root file")})
		return
	}

	s.saving.Store(true)
	if err := s.editor.SaveAll(ctx); err != nil {
		s.logger.Warn(ctx, err, "Failed to save documents before build")
	}
	s.saving.Store(false)

	if s.active != nil {
		s.logger.Info(ctx, "Terminating previous build", "build", s.active.build, "step", s.active.index)
	}
	s.killActive(ctx)
	if s.current != nil {
		s.current.finish(Result{State: StateAborted, Err: ErrSuperseded})
		s.current = nil
	}

	s.builds++
	b := &build{
		id:     s.builds,
		reason: req.reason,
		root:   rootFile,
		dir:    filepath.Dir(rootFile),
	}
	if req.reply != nil {
		b.waiters = append(b.waiters, req.reply)
	}

	s.setState(StateValidating, "building "+filepath.Base(rootFile))
	steps, err := toolchain.Materialize(s.cfg.Build.Toolchain, rootFile, toolchain.Options{
		Markers:        s.markers,
		DefaultProgram: s.cfg.Build.DefaultProgram,
		OutputDir:      s.cfg.Build.OutputDir,
	})
	if err != nil {
		s.logger.Error(ctx, err, "Invalid toolchain", "build", b.id)
		s.setState(StateFatalError, err.Error())
		b.finish(Result{State: StateFatalError, Err: err})
		return
	}
	b.steps = steps

	s.logger.Info(ctx, "Build started", "build", b.id, "root", rootFile, "steps", len(steps), "reason", req.reason)
	s.current = b
	s.spawn(ctx, 0)
}

func (s *Session) spawn(ctx context.Context, index int) {
	b := s.current
	step := b.steps[index]

	stepCtx, cancel := context.WithCancel(ctx)
	result := make(chan toolchain.Outcome, 1)
	s.active = &activeStep{build: b.id, index: index, cancel: cancel, result: result}

	s.setState(StateRunning, fmt.Sprintf("step %d/%d: %s", index+1, len(b.steps), step.Command))

	runner, dir := s.runner, b.dir
	go func() {
		result <- runner.Run(stepCtx, dir, index, step)
	}()
}

// killActive cancels the running step and waits until it has exited. The
// outcome of a killed step is dropped.
func (s *Session) killActive(ctx context.Context) {
	if s.active == nil {
		return
	}
	s.active.cancel()
	outcome := <-s.active.result
	s.logger.Debug(ctx, "Step terminated", "build", s.active.build, "step", s.active.index,
		"command", outcome.Command, "signal", outcome.Signal, "canceled", outcome.Canceled)
	s.active = nil
}

func (s *Session) handleOutcome(ctx context.Context, outcome toolchain.Outcome) {
	active := s.active
	s.active = nil
	active.cancel()

	b := s.current
	if b == nil || b.id != active.build {
		return
	}

	s.notifier.LogUpdated(s.parser.Parse(outcome.Output()))

	if !outcome.Succeeded() {
		state := StateAborted
		message := fmt.Sprintf("%s failed: %s", outcome.Command, exitDescription(outcome))
		if texerrors.IsType(outcome.Err, texerrors.ErrorTypeSpawn) {
			state = StateFatalError
			message = "fatal error: " + outcome.Err.Error()
			s.logger.Error(ctx, outcome.Err, "Step could not be started", "build", b.id, "step", outcome.Step)
		} else {
			s.logger.Warn(ctx, outcome.Err, "Step failed", "build", b.id, "step", outcome.Step,
				"exit_code", outcome.ExitCode, "signal", outcome.Signal)
			if outcome.Signal != "" && outcome.Stdout != "" {
				s.logger.Info(ctx, "Output of terminated step", "stdout", outcome.Stdout)
			}
		}
		s.setState(state, message)
		s.current = nil
		b.finish(Result{State: state, Err: outcome.Err})
		return
	}

	s.logger.Debug(ctx, "Step finished", "build", b.id, "step", outcome.Step, "duration", outcome.Duration)

	if next := outcome.Step + 1; next < len(b.steps) {
		s.spawn(ctx, next)
		return
	}

	s.current = nil
	artifact := paths.Output(b.root, s.cfg.Build.OutputDir, s.cfg.Build.ArtifactExtension)
	s.logger.Info(ctx, "Build succeeded", "build", b.id, "artifact", artifact)
	s.setState(StateFinished, "build succeeded")
	s.notifier.ArtifactReady(artifact)

	if s.cfg.Build.CleanAfterBuild {
		if _, err := s.cleaner.Clean(ctx, b.root); err != nil {
			s.logger.Warn(ctx, err, "Cleanup after build failed")
		}
	}

	b.finish(Result{State: StateFinished, Artifact: artifact})
}

func (s *Session) setState(state State, message string) {
	s.state = state
	s.notifier.Status(state, message)
}

func exitDescription(o toolchain.Outcome) string {
	if o.Signal != "" {
		return fmt.Sprintf("%d/%s", o.ExitCode, o.Signal)
	}
	return fmt.Sprintf("exit code %d", o.ExitCode)
}
