package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps [file]",
	Short: "Show the include graph of the root document",
	Long: `Resolve the root document and scan every \input, \include and \subfile
reachable from it. Includes resolve relative to the root's directory and
missing targets are skipped.

Examples:
  texwork deps
  texwork deps chapters/intro.tex --output yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

var depsFlags *StandardFlags

func init() {
	rootCmd.AddCommand(depsCmd)
	depsFlags = AddStandardFlags(depsCmd, "output")
}

type depsReport struct {
	Root    string              `json:"root" yaml:"root"`
	Files   []string            `json:"files" yaml:"files"`
	Include map[string][]string `json:"includes" yaml:"includes"`
}

func runDeps(cmd *cobra.Command, args []string) error {
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

	ctx, cancel := context.WithCancel(commandContext(cmd))
	s, wait, err := startSession(ctx, cfg, editor, nil, logger, nil)
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
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}

	report := depsReport{Root: snap.Root, Files: snap.Watched, Include: snap.Edges}
	out := cmd.OutOrStdout()
	return render(out, depsFlags.OutputFormat, report, func() error {
		printTree(out, report.Root, filepath.Dir(report.Root), report.Include, map[string]bool{}, 0)
		return nil
	})
}

// printTree prints the include tree below file. Files already printed on
// the current path are marked as cycles instead of being expanded again.
func printTree(out io.Writer, file, base string, edges map[string][]string, onPath map[string]bool, depth int) {
	name := file
	if rel, err := filepath.Rel(base, file); err == nil {
		name = rel
	}
	indent := strings.Repeat("  ", depth)
	if onPath[file] {
		fmt.Fprintf(out, "%s%s (cycle)\n", indent, name)
		return
	}
	fmt.Fprintf(out, "%s%s\n", indent, name)

	onPath[file] = true
	for _, child := range edges[file] {
		printTree(out, child, base, edges, onPath, depth+1)
	}
	delete(onPath, file)
}
