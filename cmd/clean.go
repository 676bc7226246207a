package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/texwork/internal/cleaner"
	"github.com/conneroisu/texwork/internal/root"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [file]",
	Short: "Remove auxiliary build files",
	Long: `Remove the files matching build.clean_patterns next to the root document
and in the output directory. Patterns may use ** to descend into
subdirectories. The root document itself is never removed.

Examples:
  texwork clean
  texwork clean --dry-run         # Only list what would be removed`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

var (
	cleanFlags  *StandardFlags
	cleanDryRun bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanFlags = AddStandardFlags(cleanCmd, "verbosity")
	cleanCmd.Flags().BoolVarP(&cleanDryRun, "dry-run", "n", false, "List files without removing them")
}

func runClean(cmd *cobra.Command, args []string) error {
	if err := cleanFlags.ValidateFlags(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
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

	ctx := commandContext(cmd)
	markers := root.NewMarkers(cfg.Source.Marker, cfg.Source.DocumentStart)
	result, ok := root.NewLocator(markers, cfg.Source.Extension, logger).
		Resolve(ctx, editor.ActiveDocument(), editor.WorkspaceRoot())
	if !ok {
		return fmt.Errorf("cannot find a root document in %s", editor.WorkspaceRoot())
	}

	c := cleaner.New(cfg.Build.CleanPatterns, cfg.Build.OutputDir, logger)
	out := cmd.OutOrStdout()

	if cleanDryRun {
		files, err := c.Matches(result.Path)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
		return nil
	}

	removed, err := c.Clean(ctx, result.Path)
	if !cleanFlags.Quiet {
		for _, f := range removed {
			if cleanFlags.Verbose {
				fmt.Fprintf(out, "🗑  %s\n", f)
			}
		}
		fmt.Fprintf(out, "Removed %d file(s)\n", len(removed))
	}
	return err
}
