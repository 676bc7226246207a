// Package toolchain turns the configured step list into concrete process
// invocations and runs them one at a time.
package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/paths"
	"github.com/conneroisu/texwork/internal/root"
)

// Placeholder tokens substituted in step arguments.
const (
	PlaceholderDocFile = "%DOCFILE%"
	PlaceholderDoc     = "%DOC%"
	PlaceholderDir     = "%DIR%"
	PlaceholderOutDir  = "%OUTDIR%"
)

// Step is one external program invocation.
type Step struct {
	Command string
	Args    []string
}

func (s Step) String() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// Options controls materialisation.
type Options struct {
	// Markers locates the program magic comment in the root document.
	Markers *root.Markers
	// DefaultProgram is used for empty commands when the root document
	// declares no program.
	DefaultProgram string
	// OutputDir is the configured output directory, relative to the root.
	OutputDir string
}

// Materialize validates the raw configured toolchain and builds the steps
// for rootFile. The raw value is never modified; every call returns fresh
// slices. An empty command is replaced by the program declared in the root
// document, looked up at most once per call.
func Materialize(raw []interface{}, rootFile string, opts Options) ([]Step, error) {
	if len(raw) == 0 {
		return nil, texerrors.NewConfigError(texerrors.ErrCodeEmptyToolchain, "toolchain is empty")
	}

	replacer := placeholders(rootFile, opts.OutputDir)
	program := ""
	steps := make([]Step, 0, len(raw))

	for i, entry := range raw {
		fields, ok := asMap(entry)
		if !ok {
			return nil, texerrors.NewConfigError(texerrors.ErrCodeInvalidStep,
				fmt.Sprintf("toolchain step %d must be a mapping with \"command\" and \"args\"", i+1))
		}

		command, ok := fields["command"].(string)
		if !ok {
			return nil, texerrors.NewConfigError(texerrors.ErrCodeMissingCommand,
				fmt.Sprintf("toolchain step %d must have a \"command\" string", i+1))
		}

		args, ok := asStrings(fields["args"])
		if !ok {
			return nil, texerrors.NewConfigError(texerrors.ErrCodeInvalidArgs,
				fmt.Sprintf("toolchain step %d: \"args\" must be a list of strings", i+1))
		}
		for j := range args {
			args[j] = replacer.Replace(args[j])
		}

		if command == "" {
			if program == "" {
				p, err := findProgram(rootFile, opts)
				if err != nil {
					return nil, err
				}
				program = p
			}
			command = program
		}

		steps = append(steps, Step{Command: command, Args: args})
	}

	return steps, nil
}

func placeholders(rootFile, outputDir string) *strings.Replacer {
	dir := filepath.Dir(rootFile)
	doc := paths.StripExt(filepath.Base(rootFile))
	return strings.NewReplacer(
		PlaceholderDocFile, rootFile,
		PlaceholderOutDir, paths.OutputDir(rootFile, outputDir),
		PlaceholderDoc, doc,
		PlaceholderDir, dir,
	)
}

func findProgram(rootFile string, opts Options) (string, error) {
	fallback := opts.DefaultProgram
	if fallback == "" {
		fallback = "pdflatex"
	}
	if opts.Markers == nil {
		return fallback, nil
	}
	content, err := os.ReadFile(rootFile)
	if err != nil {
		return "", texerrors.NewIOError(texerrors.ErrCodeUnreadable, "cannot read root file for program detection", err).WithPath(rootFile)
	}
	if program, ok := opts.Markers.Program(string(content)); ok {
		return program, nil
	}
	return fallback, nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// asStrings copies a decoded list of strings. A missing value or anything
// that is not a list fails.
func asStrings(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
