package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/texwork/internal/config"
	"github.com/conneroisu/texwork/internal/logparse"
	"github.com/conneroisu/texwork/internal/session"
	"github.com/conneroisu/texwork/internal/testutils"
)

const docStart = testutils.DocumentStart

// workspace creates a temporary workspace, makes it the working directory
// and writes files into it.
func workspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := testutils.CreateTempProject(t)
	for name, content := range files {
		testutils.CreateTestDocument(t, dir, name, content)
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommandFollowsMagicComment(t *testing.T) {
	dir := workspace(t, map[string]string{
		"main.tex":             docStart + "\n\\input{chapters/one}\n",
		"chapters/one.tex":     "%!TeX root = ../main.tex\n",
		"chapters/scratch.tex": "scratch\n",
	})

	out, err := executeCommand(t, "root", "chapters/one.tex", "--output", "json")
	require.NoError(t, err)

	var report rootReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, filepath.Join(dir, "main.tex"), report.Root)
	assert.Equal(t, "magic", report.Strategy)
}

func TestRootCommandUnresolved(t *testing.T) {
	workspace(t, map[string]string{"notes.tex": "no document\n"})

	_, err := executeCommand(t, "root", "--output", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot find a root document")
}

func TestDepsCommandPrintsTree(t *testing.T) {
	workspace(t, map[string]string{
		"main.tex":   docStart + "\n\\input{a}\n\\include{b}\n",
		"a.tex":      "\\input{main}\n",
		"b.tex":      "b\n",
		"unused.tex": "unused\n",
	})

	out, err := executeCommand(t, "deps", "--output", "table")
	require.NoError(t, err)
	assert.Equal(t, "main.tex\n  a.tex\n    main.tex (cycle)\n  b.tex\n", out)
}

func TestDepsCommandYAML(t *testing.T) {
	dir := workspace(t, map[string]string{
		"main.tex": docStart + "\n\\input{a}\n",
		"a.tex":    "a\n",
	})

	out, err := executeCommand(t, "deps", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "root: "+filepath.Join(dir, "main.tex"))
	assert.Contains(t, out, "- "+filepath.Join(dir, "a.tex"))
}

func TestCleanCommandDryRun(t *testing.T) {
	dir := workspace(t, map[string]string{
		"main.tex": docStart + "\n",
		"main.aux": "aux",
		"main.pdf": "pdf",
	})

	out, err := executeCommand(t, "clean", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.aux")+"\n", out)
	assert.FileExists(t, filepath.Join(dir, "main.aux"))
}

func TestCleanCommandRemovesFiles(t *testing.T) {
	dir := workspace(t, map[string]string{
		"main.tex": docStart + "\n",
		"main.aux": "aux",
		"main.log": "log",
		"main.pdf": "pdf",
	})

	out, err := executeCommand(t, "clean", "--dry-run=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 file(s)")
	assert.NoFileExists(t, filepath.Join(dir, "main.aux"))
	assert.NoFileExists(t, filepath.Join(dir, "main.log"))
	assert.FileExists(t, filepath.Join(dir, "main.pdf"))
}

func TestConfigShowAppliesDefaults(t *testing.T) {
	workspace(t, map[string]string{
		".texwork.yml": "build:\n  output_dir: out\n",
	})

	out, err := executeCommand(t, "config", "show", "--output", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "extension: .tex")
	assert.Contains(t, out, "output_dir: out")
	assert.Contains(t, out, "command: latexmk")
}

func TestConfigValidateRejectsBrokenToolchain(t *testing.T) {
	workspace(t, map[string]string{
		".texwork.yml": "build:\n  toolchain:\n    - args: []\n",
	})

	_, err := executeCommand(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid toolchain")
}

func TestBuildCommandReportsConfigurationError(t *testing.T) {
	workspace(t, map[string]string{
		".texwork.yml": "build:\n  toolchain:\n    - args: []\n",
		"main.tex":     docStart + "\n",
	})

	_, err := executeCommand(t, "build", "--quiet", "--clean=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build failed")
	assert.Contains(t, err.Error(), "must have a \"command\" string")
}

func TestBuildCommandUnresolvedRoot(t *testing.T) {
	workspace(t, map[string]string{"notes.tex": "no document\n"})

	_, err := executeCommand(t, "build", "--quiet", "--clean=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot find a root document")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version", "--short", "--format", "text")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestFlagValidation(t *testing.T) {
	assert.NoError(t, ValidateOneOf("a", "b")("b"))
	assert.Error(t, ValidateOneOf("a", "b")("c"))
	assert.NoError(t, ValidateLogLevel("debug"))
	assert.Error(t, ValidateLogLevel("loud"))
	assert.NoError(t, ValidateFileExists(""))
	assert.Error(t, ValidateFileExists(filepath.Join(t.TempDir(), "missing.tex")))

	flags := &StandardFlags{Quiet: true, Verbose: true}
	assert.Error(t, flags.ValidateFlags())
}

func TestRenderFormats(t *testing.T) {
	value := map[string]int{"steps": 3}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, "json", value, nil))
	assert.JSONEq(t, `{"steps": 3}`, buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, "yaml", value, nil))
	assert.Equal(t, "steps: 3\n", buf.String())

	assert.Error(t, render(&buf, "table", value, nil))
	assert.Error(t, render(&buf, "xml", value, nil))
}

func TestCLIEditorRereadsDocument(t *testing.T) {
	dir := workspace(t, map[string]string{"doc.tex": "first\n"})

	editor, err := newCLIEditor([]string{"doc.tex"}, &config.Config{Workspace: "."})
	require.NoError(t, err)
	assert.Equal(t, dir, editor.WorkspaceRoot())
	assert.Equal(t, "first\n", editor.ActiveDocument().Text)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.tex"), []byte("second\n"), 0644))
	assert.Equal(t, "second\n", editor.ActiveDocument().Text)

	_, err = newCLIEditor([]string{"missing.tex"}, &config.Config{Workspace: "."})
	assert.Error(t, err)

	empty, err := newCLIEditor(nil, &config.Config{Workspace: "."})
	require.NoError(t, err)
	assert.Nil(t, empty.ActiveDocument())
}

func TestTerminalNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := newTerminalNotifier(&buf, &StandardFlags{Quiet: true})

	n.Status(session.StateRunning, "step 1/1: pdflatex")
	n.ArtifactReady("/p/doc.pdf")
	n.LogUpdated(logparse.Report{Entries: []logparse.Entry{
		{Kind: logparse.KindWarning, Message: "Reference undefined"},
		{Kind: logparse.KindError, File: "doc.tex", Line: 3, Message: "Undefined control sequence."},
	}})
	n.Status(session.StateAborted, "pdflatex failed: exit code 1")

	assert.Equal(t, "  doc.tex:3: error: Undefined control sequence.\n✗ pdflatex failed: exit code 1\n", buf.String())
}
