// Package session coordinates root resolution, dependency watching and the
// toolchain run.
//
// A Session is an actor: Run owns every piece of mutable state and handles
// one event at a time. Build requests, save notifications, watcher batches
// and step outcomes all reach it through channels, so at most one child
// process is alive and a new build always reaps the previous process before
// spawning its own.
package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/conneroisu/texwork/internal/cleaner"
	"github.com/conneroisu/texwork/internal/config"
	"github.com/conneroisu/texwork/internal/depgraph"
	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/logparse"
	"github.com/conneroisu/texwork/internal/paths"
	"github.com/conneroisu/texwork/internal/root"
	"github.com/conneroisu/texwork/internal/toolchain"
	"github.com/conneroisu/texwork/internal/watcher"
)

// ErrSuperseded is reported to callers waiting on a build that was replaced
// by a newer request.
var ErrSuperseded = errors.New("build superseded by a newer request")

// Editor is the host that owns the open documents.
type Editor interface {
	// ActiveDocument returns the focused document, or nil.
	ActiveDocument() *root.Document
	// WorkspaceRoot returns the directory scanned for root candidates.
	WorkspaceRoot() string
	// SaveAll persists every modified document.
	SaveAll(ctx context.Context) error
}

// Notifier receives the outward-facing events of a session. Calls are made
// from the session goroutine and must not block on the session.
type Notifier interface {
	Status(state State, message string)
	LogUpdated(report logparse.Report)
	ArtifactReady(path string)
	GraphChanged(root string, files []string)
}

// StepRunner spawns a single toolchain step and blocks until it exits.
type StepRunner interface {
	Run(ctx context.Context, dir string, index int, step toolchain.Step) toolchain.Outcome
}

// Watcher is the watch service used for the dependency graph.
type Watcher interface {
	depgraph.WatchSet
	AddHandler(handler watcher.ChangeHandler)
	Paths() []string
	Start(ctx context.Context) error
	Stop() error
}

// WatcherFactory creates a fresh, empty watcher.
type WatcherFactory func() (Watcher, error)

// Options configures a Session.
type Options struct {
	Config   *config.Config
	Editor   Editor
	Notifier Notifier
	Logger   logging.Logger
	// Runner defaults to a toolchain.Runner.
	Runner StepRunner
	// Watchers defaults to fsnotify-backed watchers.
	Watchers WatcherFactory
}

// Result is the final state of one build.
type Result struct {
	Build    uint64
	Root     string
	State    State
	Artifact string
	Err      error
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	Root       string
	State      State
	Step       int
	Builds     uint64
	Generation uint64
	Watched    []string
	Edges      map[string][]string
}

// Session is a build session bound to one editor.
type Session struct {
	cfg      *config.Config
	editor   Editor
	notifier Notifier
	logger   logging.Logger
	runner   StepRunner
	watchers WatcherFactory
	locator  *root.Locator
	markers  *root.Markers
	parser   *logparse.Parser
	cleaner  *cleaner.Cleaner

	events  chan event
	stopped chan struct{}
	saving  atomic.Bool

	// Owned by the Run goroutine.
	rootFile   string
	graph      *depgraph.Graph
	watch      Watcher
	generation uint64
	builds     uint64
	current    *build
	active     *activeStep
	state      State
}

type event interface{}

type buildRequest struct {
	reason string
	reply  chan Result
}

type savedEvent struct {
	path string
}

type watchEvent struct {
	generation uint64
	changes    []watcher.ChangeEvent
}

type resolveRequest struct {
	reply chan string
}

type snapshotRequest struct {
	reply chan Snapshot
}

// New creates a session. Run must be called for it to do anything.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, texerrors.NewConfigError(texerrors.ErrCodeInvalidConfig, "session requires a configuration")
	}
	if opts.Editor == nil {
		return nil, texerrors.NewInternalError(texerrors.ErrCodeInvalidConfig, "session requires an editor", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	cfg := opts.Config
	markers := root.NewMarkers(cfg.Source.Marker, cfg.Source.DocumentStart)

	s := &Session{
		cfg:      cfg,
		editor:   opts.Editor,
		notifier: notifier,
		logger:   logger.WithComponent("session"),
		runner:   opts.Runner,
		watchers: opts.Watchers,
		locator:  root.NewLocator(markers, cfg.Source.Extension, logger),
		markers:  markers,
		parser:   logparse.NewParser(),
		cleaner:  cleaner.New(cfg.Build.CleanPatterns, cfg.Build.OutputDir, logger),
		events:   make(chan event, 64),
		stopped:  make(chan struct{}),
	}
	if s.runner == nil {
		s.runner = toolchain.NewRunner(logger)
	}
	if s.watchers == nil {
		s.watchers = func() (Watcher, error) {
			fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
			if err != nil {
				return nil, err
			}
			fw.AddFilter(watcher.NoHiddenFilter)
			return fw, nil
		}
	}
	return s, nil
}

// Run processes events until ctx ends. On return the active process has
// been reaped and the watcher closed.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer s.shutdown(ctx)

	s.logger.Debug(ctx, "Session started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		case outcome := <-s.activeResult():
			s.handleOutcome(ctx, outcome)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case buildRequest:
		s.startBuild(ctx, e)
	case savedEvent:
		s.logger.Debug(ctx, "Document saved, building", "path", e.path)
		s.startBuild(ctx, buildRequest{reason: "save"})
	case watchEvent:
		s.handleWatch(ctx, e)
	case resolveRequest:
		rootFile, _ := s.resolve(ctx)
		e.reply <- rootFile
	case snapshotRequest:
		e.reply <- s.snapshot()
	}
}

// post queues ev for the Run goroutine. It fails once the session stopped.
func (s *Session) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopped:
		return false
	}
}

// RequestBuild asks for a build without waiting for it.
func (s *Session) RequestBuild() {
	s.post(buildRequest{reason: "request"})
}

// Build requests a build and waits until it reaches a terminal state, is
// superseded, or ctx ends.
func (s *Session) Build(ctx context.Context) (Result, error) {
	reply := make(chan Result, 1)
	if !s.post(buildRequest{reason: "request", reply: reply}) {
		return Result{}, shutdownError()
	}
	select {
	case r := <-reply:
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-s.stopped:
		return Result{}, shutdownError()
	}
}

// NotifySaved tells the session that the editor saved path. Saves made by
// the session's own save-before-build are ignored, so this may be called
// from inside Editor.SaveAll.
func (s *Session) NotifySaved(path string) {
	if s.saving.Load() || !s.cfg.AutoBuild.OnSave {
		return
	}
	if !paths.HasExt(path, s.cfg.Source.Extension) {
		return
	}
	s.post(savedEvent{path: path})
}

// ResolveRoot resolves the root file and refreshes the dependency graph if
// needed. It returns "" when no root could be found.
func (s *Session) ResolveRoot(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	if !s.post(resolveRequest{reply: reply}) {
		return "", shutdownError()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.stopped:
		return "", shutdownError()
	}
}

// Snapshot returns the current session state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.post(snapshotRequest{reply: reply}) {
		return Snapshot{}, shutdownError()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.stopped:
		return Snapshot{}, shutdownError()
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Root:       s.rootFile,
		State:      s.state,
		Step:       -1,
		Builds:     s.builds,
		Generation: s.generation,
	}
	if s.active != nil {
		snap.Step = s.active.index
	}
	if s.watch != nil {
		snap.Watched = s.watch.Paths()
	}
	if s.graph != nil {
		files := s.graph.Files()
		snap.Edges = make(map[string][]string, len(files))
		for _, f := range files {
			snap.Edges[f] = s.graph.Includes(f)
		}
	}
	return snap
}

func (s *Session) shutdown(ctx context.Context) {
	s.killActive(ctx)
	if s.current != nil {
		s.current.finish(Result{State: StateAborted, Err: shutdownError()})
		s.current = nil
	}
	s.closeWatcher()
	s.logger.Debug(ctx, "Session stopped")
}

func shutdownError() error {
	return texerrors.NewInternalError(texerrors.ErrCodeSessionShutdown, "session is not running", nil)
}

type nopNotifier struct{}

func (nopNotifier) Status(State, string)          {}
func (nopNotifier) LogUpdated(logparse.Report)    {}
func (nopNotifier) ArtifactReady(string)          {}
func (nopNotifier) GraphChanged(string, []string) {}
