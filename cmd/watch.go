package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/texwork/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch [file]",
	Aliases: []string{"w"},
	Short:   "Rebuild the document whenever it is saved",
	Long: `Resolve the root document, build it once and keep rebuilding whenever the
focused file is written. With auto_build.on_change (or --on-change) a change
to any included file also triggers a build. A new build always terminates
the one still running.

Examples:
  texwork watch                   # Watch the root found in the workspace
  texwork watch chapters/intro.tex
  texwork watch --on-change       # Also rebuild when included files change
  texwork watch --no-initial      # Wait for the first save before building`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchFlags     *StandardFlags
	watchOnChange  bool
	watchNoInitial bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchFlags = AddStandardFlags(watchCmd, "verbosity")
	watchCmd.Flags().BoolVar(&watchOnChange, "on-change", false, "Rebuild when any included file changes")
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "Skip the initial build")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := watchFlags.ValidateFlags(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchOnChange {
		cfg.AutoBuild.OnChange = true
	}
	// Writes to disk are the only save signal on the command line.
	cfg.AutoBuild.OnSave = true

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
	if watchFlags.Verbose {
		live = os.Stderr
	}

	out := cmd.OutOrStdout()
	s, wait, err := startSession(ctx, cfg, editor, newTerminalNotifier(out, watchFlags), logger, live)
	if err != nil {
		cancel()
		return err
	}
	defer func() {
		cancel()
		wait()
	}()

	rootFile, err := s.ResolveRoot(ctx)
	if err != nil {
		return err
	}
	if rootFile == "" {
		return fmt.Errorf("cannot find a root document in %s", editor.WorkspaceRoot())
	}

	// Saves of the focused document are observed separately from the
	// dependency graph and reported to the session as editor saves.
	focused := editor.path
	if focused == "" {
		focused = rootFile
	}
	saves, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = saves.Stop() }()

	saves.AddFilter(watcher.NoHiddenFilter)
	saves.AddFilter(watcher.ExtensionFilter(cfg.Source.Extension))
	saves.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, event := range events {
			if event.Type != watcher.EventTypeDeleted {
				s.NotifySaved(event.Path)
			}
		}
		return nil
	})
	if _, err := saves.Add(focused); err != nil {
		return fmt.Errorf("failed to watch %s: %w", focused, err)
	}
	if err := saves.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	if !watchNoInitial {
		s.RequestBuild()
	}

	fmt.Fprintf(out, "👀 Watching %s (root %s)... (Press Ctrl+C to stop)\n", focused, rootFile)
	<-ctx.Done()
	fmt.Fprintln(out, "\n🛑 Stopping...")
	return nil
}
