package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/conneroisu/texwork/internal/config"
	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/logparse"
	"github.com/conneroisu/texwork/internal/root"
	"github.com/conneroisu/texwork/internal/session"
	"github.com/conneroisu/texwork/internal/toolchain"
)

// cliEditor stands in for an editor on the command line: the document named
// on the command line is the focused one and there is never unsaved text.
type cliEditor struct {
	path      string
	workspace string
}

func newCLIEditor(args []string, cfg *config.Config) (*cliEditor, error) {
	workspace, err := cfg.WorkspaceRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	e := &cliEditor{workspace: workspace}
	if len(args) > 0 {
		if err := ValidateFileExists(args[0]); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", args[0], err)
		}
		e.path = abs
	}
	return e, nil
}

// ActiveDocument re-reads the document so magic comments edited on disk are
// honoured.
func (e *cliEditor) ActiveDocument() *root.Document {
	if e.path == "" {
		return nil
	}
	content, err := os.ReadFile(e.path)
	if err != nil {
		return &root.Document{Path: e.path}
	}
	return &root.Document{Path: e.path, Text: string(content)}
}

func (e *cliEditor) WorkspaceRoot() string {
	return e.workspace
}

func (e *cliEditor) SaveAll(ctx context.Context) error {
	return nil
}

// terminalNotifier renders session events as lines of text.
type terminalNotifier struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	quiet   bool
}

func newTerminalNotifier(out io.Writer, flags *StandardFlags) *terminalNotifier {
	return &terminalNotifier{out: out, verbose: flags.Verbose, quiet: flags.Quiet}
}

func (n *terminalNotifier) printf(format string, args ...interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.out, format, args...)
}

func (n *terminalNotifier) Status(state session.State, message string) {
	switch state {
	case session.StateAborted, session.StateFatalError:
		n.printf("✗ %s\n", message)
	case session.StateFinished:
		if !n.quiet {
			n.printf("✓ %s\n", message)
		}
	case session.StateRunning:
		if !n.quiet {
			n.printf("→ %s\n", message)
		}
	default:
		if n.verbose {
			n.printf("  %s: %s\n", state, message)
		}
	}
}

func (n *terminalNotifier) LogUpdated(report logparse.Report) {
	for _, entry := range report.Entries {
		if entry.Kind == logparse.KindError || (!n.quiet && entry.Kind == logparse.KindWarning) || n.verbose {
			n.printf("  %s\n", entry)
		}
	}
}

func (n *terminalNotifier) ArtifactReady(path string) {
	if !n.quiet {
		n.printf("📄 %s\n", path)
	}
}

func (n *terminalNotifier) GraphChanged(rootFile string, files []string) {
	if n.verbose {
		n.printf("🔍 %s: watching %d file(s)\n", filepath.Base(rootFile), len(files))
	}
}

// startSession creates a session and runs it until ctx ends. The returned
// wait function blocks until the session has shut down.
func startSession(ctx context.Context, cfg *config.Config, editor session.Editor, notifier session.Notifier,
	logger logging.Logger, live io.Writer) (*session.Session, func(), error) {
	opts := session.Options{
		Config:   cfg,
		Editor:   editor,
		Notifier: notifier,
		Logger:   logger,
	}
	if live != nil {
		runner := toolchain.NewRunner(logger)
		runner.Live = live
		opts.Runner = runner
	}

	s, err := session.New(opts)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			logger.Error(ctx, err, "Session stopped with error")
		}
	}()
	return s, func() { <-done }, nil
}
