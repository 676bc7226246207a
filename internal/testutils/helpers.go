// Package testutils holds fixtures shared by the package tests: temporary
// workspaces, documents and a configuration tuned for fast tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/texwork/internal/config"
)

// DocumentStart is the document-start marker used by the fixtures.
const DocumentStart = `\begin{document}`

// CreateTempProject creates an empty workspace. Symlinks in the path are
// resolved so paths compare equal to the ones the watcher reports.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

// CreateTestDocument writes content to dir/name, creating parent
// directories, and returns the path.
func CreateTestDocument(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// CreateTestConfig creates a configuration with the given toolchain steps,
// auto build on save and a short debounce.
func CreateTestConfig(steps ...interface{}) *config.Config {
	return &config.Config{
		Workspace: ".",
		Source: config.SourceConfig{
			Extension:     config.DefaultExtension,
			Marker:        config.DefaultMarker,
			DocumentStart: DocumentStart,
		},
		Build: config.BuildConfig{
			Toolchain:         steps,
			OutputDir:         config.DefaultOutputDir,
			ArtifactExtension: config.DefaultArtifactExtension,
			DefaultProgram:    config.DefaultProgram,
			CleanPatterns:     config.DefaultCleanPatterns(),
		},
		AutoBuild: config.AutoBuildConfig{OnSave: true},
		Watch:     config.WatchConfig{Debounce: 20 * time.Millisecond},
	}
}

// Step builds a raw toolchain entry as it is decoded from configuration.
func Step(command string, args ...interface{}) map[string]interface{} {
	if args == nil {
		args = []interface{}{}
	}
	return map[string]interface{}{"command": command, "args": args}
}

// WaitForFileChange waits for a file to be modified after originalModTime.
func WaitForFileChange(t *testing.T, filePath string, originalModTime time.Time, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(originalModTime) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}
