package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/session"
)

var buildCmd = &cobra.Command{
	Use:     "build [file]",
	Aliases: []string{"b"},
	Short:   "Build the document a file belongs to",
	Long: `Resolve the root document for the given file (or the workspace), then
run every configured toolchain step in order. The build stops at the first
failing step.

Examples:
  texwork build                   # Build the root found in the workspace
  texwork build chapters/intro.tex
  texwork build --verbose         # Stream compiler output
  texwork build --clean           # Remove auxiliary files afterwards`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

var (
	buildFlags *StandardFlags
	buildClean bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildFlags = AddStandardFlags(buildCmd, "verbosity")
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Remove auxiliary files after a successful build")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if err := buildFlags.ValidateFlags(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if buildClean {
		cfg.Build.CleanAfterBuild = true
	}

	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	editor, err := newCLIEditor(args, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	var live io.Writer
	if buildFlags.Verbose {
		live = os.Stderr
	}

	notifier := newTerminalNotifier(cmd.OutOrStdout(), buildFlags)
	s, wait, err := startSession(ctx, cfg, editor, notifier, logger, live)
	if err != nil {
		cancel()
		return err
	}
	defer func() {
		cancel()
		wait()
	}()

	op := logging.StartOperation(logger, "build")
	result, err := s.Build(ctx)
	if err != nil {
		op.EndWithError(ctx, err)
	} else {
		op.End(ctx)
	}

	switch {
	case result.State == session.StateFinished:
		return nil
	case texerrors.UserVisible(err):
		return fmt.Errorf("build failed: %w", err)
	case texerrors.IsType(err, texerrors.ErrorTypeResolution):
		return fmt.Errorf("cannot find a root document in %s", editor.WorkspaceRoot())
	case !result.State.Terminal() && err != nil:
		return fmt.Errorf("build did not complete: %w", err)
	default:
		return fmt.Errorf("build ended in state %s", result.State)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
