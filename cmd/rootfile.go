package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/texwork/internal/root"
)

var rootFileCmd = &cobra.Command{
	Use:   "root [file]",
	Short: "Show the compilation root of a document",
	Long: `Run root resolution for the given file (or the workspace) and print the
resulting root document together with the strategy that found it.

Strategies, in order:
  magic       a "%!TeX root = <path>" comment in the file
  self        the file itself contains \begin{document}
  directory   the first workspace file containing \begin{document}

Examples:
  texwork root chapters/intro.tex
  texwork root --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRootFile,
}

var rootFileFlags *StandardFlags

func init() {
	rootCmd.AddCommand(rootFileCmd)
	rootFileFlags = AddStandardFlags(rootFileCmd, "output")
}

type rootReport struct {
	Root     string `json:"root" yaml:"root"`
	Strategy string `json:"strategy" yaml:"strategy"`
}

func runRootFile(cmd *cobra.Command, args []string) error {
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

	markers := root.NewMarkers(cfg.Source.Marker, cfg.Source.DocumentStart)
	locator := root.NewLocator(markers, cfg.Source.Extension, logger)
	result, ok := locator.Resolve(commandContext(cmd), editor.ActiveDocument(), editor.WorkspaceRoot())
	if !ok {
		return fmt.Errorf("cannot find a root document in %s", editor.WorkspaceRoot())
	}

	report := rootReport{Root: result.Path, Strategy: result.Strategy}
	out := cmd.OutOrStdout()
	return render(out, rootFileFlags.OutputFormat, report, func() error {
		_, err := fmt.Fprintf(out, "%s\t(%s)\n", report.Root, report.Strategy)
		return err
	})
}
