package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logparse"
	"github.com/conneroisu/texwork/internal/root"
	"github.com/conneroisu/texwork/internal/testutils"
	"github.com/conneroisu/texwork/internal/toolchain"
	"github.com/conneroisu/texwork/internal/watcher"
)

type fakeEditor struct {
	mu        sync.Mutex
	active    *root.Document
	workspace string
	saves     int
	onSave    func()
}

func (e *fakeEditor) ActiveDocument() *root.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *fakeEditor) WorkspaceRoot() string {
	return e.workspace
}

func (e *fakeEditor) SaveAll(ctx context.Context) error {
	e.mu.Lock()
	e.saves++
	onSave := e.onSave
	e.mu.Unlock()
	if onSave != nil {
		onSave()
	}
	return nil
}

type statusUpdate struct {
	state   State
	message string
}

type recordingNotifier struct {
	mu        sync.Mutex
	statuses  []statusUpdate
	reports   []logparse.Report
	artifacts []string
	graphs    int
}

func (n *recordingNotifier) Status(state State, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, statusUpdate{state, message})
}

func (n *recordingNotifier) LogUpdated(report logparse.Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
}

func (n *recordingNotifier) ArtifactReady(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.artifacts = append(n.artifacts, path)
}

func (n *recordingNotifier) GraphChanged(string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.graphs++
}

func (n *recordingNotifier) graphCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.graphs
}

func (n *recordingNotifier) lastStatus() statusUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 {
		return statusUpdate{}
	}
	return n.statuses[len(n.statuses)-1]
}

// fakeRunner records every spawn and delegates the outcome to run.
type fakeRunner struct {
	mu    sync.Mutex
	steps []toolchain.Step
	trace []string
	run   func(ctx context.Context, call, index int, step toolchain.Step) toolchain.Outcome
}

func (r *fakeRunner) Run(ctx context.Context, dir string, index int, step toolchain.Step) toolchain.Outcome {
	r.mu.Lock()
	call := len(r.steps)
	r.steps = append(r.steps, step)
	r.mu.Unlock()
	r.record("spawn " + step.Command)

	out := toolchain.Outcome{}
	if r.run != nil {
		out = r.run(ctx, call, index, step)
	}
	out.Step = index
	out.Command = step.Command
	out.Args = step.Args
	return out
}

func (r *fakeRunner) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, s)
}

func (r *fakeRunner) calls() []toolchain.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolchain.Step{}, r.steps...)
}

func (r *fakeRunner) traced() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.trace...)
}

func startSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func buildCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresConfigAndEditor(t *testing.T) {
	_, err := New(Options{Editor: &fakeEditor{}})
	assert.True(t, texerrors.IsType(err, texerrors.ErrorTypeConfig))

	_, err = New(Options{Config: testutils.CreateTestConfig()})
	assert.Error(t, err)
}

func TestBuildRunsStepsAndReportsArtifact(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{}
	notifier := &recordingNotifier{}
	editor := &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir}
	s := startSession(t, Options{
		Config:   testutils.CreateTestConfig(testutils.Step("pdflatex", "%DOC%"), testutils.Step("bibtex", "%DOC%"), testutils.Step("pdflatex", "%DOC%")),
		Editor:   editor,
		Notifier: notifier,
		Runner:   runner,
	})

	result, err := s.Build(buildCtx(t))
	require.NoError(t, err)

	assert.Equal(t, StateFinished, result.State)
	assert.Equal(t, doc, result.Root)
	assert.Equal(t, filepath.Join(dir, "doc.pdf"), result.Artifact)
	assert.Equal(t, []toolchain.Step{
		{Command: "pdflatex", Args: []string{"doc"}},
		{Command: "bibtex", Args: []string{"doc"}},
		{Command: "pdflatex", Args: []string{"doc"}},
	}, runner.calls())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Len(t, notifier.reports, 3)
	assert.Equal(t, []string{filepath.Join(dir, "doc.pdf")}, notifier.artifacts)
	assert.Equal(t, StateFinished, notifier.statuses[len(notifier.statuses)-1].state)
	assert.Equal(t, 1, editor.saves)
}

func TestFailingStepAbortsRemainingSteps(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{
		run: func(ctx context.Context, call, index int, s toolchain.Step) toolchain.Outcome {
			if index == 1 {
				return toolchain.Outcome{
					ExitCode: 2,
					Stdout:   "./doc.tex:3: Undefined control sequence.",
					Err:      texerrors.NewStepError(s.Command, 2, ""),
				}
			}
			return toolchain.Outcome{}
		},
	}
	notifier := &recordingNotifier{}
	s := startSession(t, Options{
		Config:   testutils.CreateTestConfig(testutils.Step("one"), testutils.Step("two"), testutils.Step("three")),
		Editor:   &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Notifier: notifier,
		Runner:   runner,
	})

	result, err := s.Build(buildCtx(t))
	require.Error(t, err)
	assert.True(t, texerrors.IsType(err, texerrors.ErrorTypeStep))
	assert.Equal(t, StateAborted, result.State)

	calls := runner.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "two", calls[1].Command)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.reports, 2)
	assert.Equal(t, 1, notifier.reports[1].Count(logparse.KindError))
	assert.Empty(t, notifier.artifacts)
	last := notifier.statuses[len(notifier.statuses)-1]
	assert.Equal(t, StateAborted, last.state)
	assert.Contains(t, last.message, "exit code 2")
}

func TestSpawnFailureIsFatal(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{
		run: func(ctx context.Context, call, index int, s toolchain.Step) toolchain.Outcome {
			return toolchain.Outcome{ExitCode: -1, Err: texerrors.NewSpawnError(s.Command, errors.New("not found"), "")}
		},
	}
	notifier := &recordingNotifier{}
	s := startSession(t, Options{
		Config:   testutils.CreateTestConfig(testutils.Step("missing"), testutils.Step("never")),
		Editor:   &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Notifier: notifier,
		Runner:   runner,
	})

	result, err := s.Build(buildCtx(t))
	require.Error(t, err)
	assert.Equal(t, StateFatalError, result.State)
	assert.Len(t, runner.calls(), 1)
	assert.Contains(t, notifier.lastStatus().message, "does the executable exist")
}

func TestInvalidToolchainAbortsBeforeSpawn(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{}
	notifier := &recordingNotifier{}
	s := startSession(t, Options{
		Config:   testutils.CreateTestConfig(map[string]interface{}{"args": []interface{}{}}),
		Editor:   &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Notifier: notifier,
		Runner:   runner,
	})

	result, err := s.Build(buildCtx(t))
	require.Error(t, err)
	assert.True(t, texerrors.IsType(err, texerrors.ErrorTypeConfig))
	assert.Equal(t, StateFatalError, result.State)
	assert.Empty(t, runner.calls())
	assert.Equal(t, StateFatalError, notifier.lastStatus().state)
}

func TestNewBuildTerminatesPreviousProcessFirst(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	started := make(chan struct{}, 1)
	runner := &fakeRunner{}
	runner.run = func(ctx context.Context, call, index int, s toolchain.Step) toolchain.Outcome {
		if call > 0 {
			return toolchain.Outcome{}
		}
		started <- struct{}{}
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		runner.record("exit " + s.Command)
		return toolchain.Outcome{ExitCode: -1, Signal: "killed", Canceled: true,
			Err: texerrors.NewStepError(s.Command, -1, "killed")}
	}

	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("latex")),
		Editor: &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Runner: runner,
	})

	first := make(chan Result, 1)
	go func() {
		r, _ := s.Build(buildCtx(t))
		first <- r
	}()
	<-started

	second, err := s.Build(buildCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFinished, second.State)

	r := <-first
	assert.Equal(t, StateAborted, r.State)
	assert.ErrorIs(t, r.Err, ErrSuperseded)
	assert.Less(t, r.Build, second.Build)

	assert.Equal(t, []string{"spawn latex", "exit latex", "spawn latex"}, runner.traced())
}

func TestProgramMarkerSelectsCompiler(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", "%!TeX program = xelatex\n"+testutils.DocumentStart+"\n")

	runner := &fakeRunner{}
	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("", "%DOC%"), testutils.Step("bibtex", "%DOC%"), testutils.Step("", "%DOC%")),
		Editor: &fakeEditor{active: &root.Document{Path: doc, Text: "%!TeX program = xelatex\n" + testutils.DocumentStart}, workspace: dir},
		Runner: runner,
	})

	result, err := s.Build(buildCtx(t))
	require.NoError(t, err)
	assert.Equal(t, StateFinished, result.State)

	var commands []string
	for _, c := range runner.calls() {
		commands = append(commands, c.Command)
		assert.Equal(t, []string{"doc"}, c.Args)
	}
	assert.Equal(t, []string{"xelatex", "bibtex", "xelatex"}, commands)
}

func TestMagicRootFromIncludedDocument(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	main := testutils.CreateTestDocument(t, dir, "main.tex", testutils.DocumentStart+"\n\\input{chapter}\n")
	chapter := testutils.CreateTestDocument(t, dir, "chapter.tex", "%!TeX root = main\nHello\n")

	runner := &fakeRunner{}
	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex", "%DOCFILE%")),
		Editor: &fakeEditor{active: &root.Document{Path: chapter, Text: "%!TeX root = main\nHello\n"}, workspace: dir},
		Runner: runner,
	})

	result, err := s.Build(buildCtx(t))
	require.NoError(t, err)
	assert.Equal(t, main, result.Root)
	assert.Equal(t, []string{main}, runner.calls()[0].Args)

	snap, err := s.Snapshot(buildCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{chapter, main}, snap.Watched)
	assert.Equal(t, []string{chapter}, snap.Edges[main])
}

func TestUnresolvedRootIsNoop(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	testutils.CreateTestDocument(t, dir, "notes.tex", "no document here\n")

	runner := &fakeRunner{}
	editor := &fakeEditor{workspace: dir}
	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor: editor,
		Runner: runner,
	})

	result, err := s.Build(buildCtx(t))
	require.Error(t, err)
	assert.True(t, texerrors.IsType(err, texerrors.ErrorTypeResolution))
	assert.Equal(t, StateIdle, result.State)
	assert.Empty(t, runner.calls())
	assert.Zero(t, editor.saves)

	snap, err := s.Snapshot(buildCtx(t))
	require.NoError(t, err)
	assert.Empty(t, snap.Root)
	assert.Zero(t, snap.Builds)
}

func TestResolveRootIsIdempotent(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n\\input{a}\n")
	a := testutils.CreateTestDocument(t, dir, "a.tex", "text\n")

	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor: &fakeEditor{workspace: dir},
		Runner: &fakeRunner{},
	})

	ctx := buildCtx(t)
	first, err := s.ResolveRoot(ctx)
	require.NoError(t, err)
	before, err := s.Snapshot(ctx)
	require.NoError(t, err)

	second, err := s.ResolveRoot(ctx)
	require.NoError(t, err)
	after, err := s.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, doc, first)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), after.Generation)
	assert.Equal(t, before.Watched, after.Watched)
	assert.Equal(t, []string{a, doc}, after.Watched)
}

func TestSaveBeforeBuildDoesNotTriggerBuild(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{}
	editor := &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir}
	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor: editor,
		Runner: runner,
	})
	editor.onSave = func() { s.NotifySaved(doc) }

	_, err := s.Build(buildCtx(t))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	snap, err := s.Snapshot(buildCtx(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Builds)
	assert.Len(t, runner.calls(), 1)
}

func TestNotifySavedTriggersBuild(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	runner := &fakeRunner{}
	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor: &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Runner: runner,
	})

	s.NotifySaved(filepath.Join(dir, "refs.bib"))
	s.NotifySaved(doc)

	require.Eventually(t, func() bool { return len(runner.calls()) == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runner.calls(), 1)
}

func TestNotifySavedRespectsConfig(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")

	cfg := testutils.CreateTestConfig(testutils.Step("pdflatex"))
	cfg.AutoBuild.OnSave = false
	runner := &fakeRunner{}
	s := startSession(t, Options{
		Config: cfg,
		Editor: &fakeEditor{active: &root.Document{Path: doc, Text: testutils.DocumentStart}, workspace: dir},
		Runner: runner,
	})

	s.NotifySaved(doc)
	snap, err := s.Snapshot(buildCtx(t))
	require.NoError(t, err)
	assert.Zero(t, snap.Builds)
	assert.Empty(t, runner.calls())
}

func TestChangedDependencyIsRescanned(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	doc := testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n")
	chapter := testutils.CreateTestDocument(t, dir, "chapter.tex", "chapter\n")

	notifier := &recordingNotifier{}
	s := startSession(t, Options{
		Config:   testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor:   &fakeEditor{workspace: dir},
		Notifier: notifier,
		Runner:   &fakeRunner{},
	})

	ctx := buildCtx(t)
	_, err := s.ResolveRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, notifier.graphCount())

	testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n\\input{chapter}\n")

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && len(snap.Edges[doc]) == 1
	}, 5*time.Second, 20*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{chapter}, snap.Edges[doc])
	assert.Contains(t, snap.Watched, chapter)
	assert.GreaterOrEqual(t, notifier.graphCount(), 2)
}

func TestAutoBuildOnChangeSkipsActiveDocument(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	testutils.CreateTestDocument(t, dir, "doc.tex", testutils.DocumentStart+"\n\\input{a}\n\\input{b}\n")
	a := testutils.CreateTestDocument(t, dir, "a.tex", "a\n")
	testutils.CreateTestDocument(t, dir, "b.tex", "b\n")

	cfg := testutils.CreateTestConfig(testutils.Step("pdflatex"))
	cfg.AutoBuild.OnChange = true
	runner := &fakeRunner{}
	editor := &fakeEditor{active: &root.Document{Path: a, Text: "a\n"}, workspace: dir}
	s := startSession(t, Options{Config: cfg, Editor: editor, Runner: runner})

	ctx := buildCtx(t)
	_, err := s.ResolveRoot(ctx)
	require.NoError(t, err)

	testutils.CreateTestDocument(t, dir, "a.tex", "a changed\n")
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, runner.calls())

	testutils.CreateTestDocument(t, dir, "b.tex", "b changed\n")
	require.Eventually(t, func() bool { return len(runner.calls()) >= 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestDeletedRootIsResolvedAgain(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	first := testutils.CreateTestDocument(t, dir, "a.tex", testutils.DocumentStart+"\n")
	second := testutils.CreateTestDocument(t, dir, "b.tex", testutils.DocumentStart+"\n")

	s := startSession(t, Options{
		Config: testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor: &fakeEditor{workspace: dir},
		Runner: &fakeRunner{},
	})

	ctx := buildCtx(t)
	resolved, err := s.ResolveRoot(ctx)
	require.NoError(t, err)
	require.Equal(t, first, resolved)

	require.NoError(t, os.Remove(first))

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot(ctx)
		return err == nil && snap.Root == second
	}, 5*time.Second, 20*time.Millisecond)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Generation)
	assert.Equal(t, []string{second}, snap.Watched)
}

func TestDeletedRootDoesNotDropRestOfBatch(t *testing.T) {
	dir := testutils.CreateTempProject(t)
	main := testutils.CreateTestDocument(t, dir, "main.tex", testutils.DocumentStart+"\n\\input{chap}\n")
	chap := testutils.CreateTestDocument(t, dir, "chap.tex", "one\n")
	notifier := &recordingNotifier{}

	s, err := New(Options{
		Config:   testutils.CreateTestConfig(testutils.Step("pdflatex")),
		Editor:   &fakeEditor{workspace: dir},
		Notifier: notifier,
		Runner:   &fakeRunner{},
	})
	require.NoError(t, err)
	t.Cleanup(s.closeWatcher)

	ctx := buildCtx(t)
	resolved, ok := s.resolve(ctx)
	require.True(t, ok)
	require.Equal(t, main, resolved)
	require.Equal(t, 1, notifier.graphCount())

	extra := testutils.CreateTestDocument(t, dir, "extra.tex", "extra\n")
	testutils.CreateTestDocument(t, dir, "chap.tex", "\\input{extra}\n")
	require.NoError(t, os.Remove(main))

	// Called directly: Run is not started, so this goroutine owns the state.
	s.handleWatch(ctx, watchEvent{
		generation: s.generation,
		changes: []watcher.ChangeEvent{
			{Type: watcher.EventTypeDeleted, Path: main},
			{Type: watcher.EventTypeModified, Path: chap},
		},
	})

	assert.Equal(t, []string{extra}, s.graph.Includes(chap), "change after the root delete is still scanned")
	assert.Equal(t, 2, notifier.graphCount(), "graph change reported although no new root was found")
}

func TestCallsAfterShutdownFail(t *testing.T) {
	s, err := New(Options{Config: testutils.CreateTestConfig(testutils.Step("pdflatex")), Editor: &fakeEditor{}, Runner: &fakeRunner{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	_, err = s.Build(context.Background())
	assert.True(t, texerrors.IsType(err, texerrors.ErrorTypeInternal))
	_, err = s.Snapshot(context.Background())
	assert.Error(t, err)
}
