// Package paths holds the path and extension helpers shared by root
// resolution, dependency scanning and artifact derivation.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// Exists reports whether path names an existing regular file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HasExt reports whether path ends in ext. An empty ext never matches.
func HasExt(path, ext string) bool {
	return ext != "" && filepath.Ext(path) == ext
}

// StripExt removes the final extension of path, if any.
func StripExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// Candidate resolves an include reference to the file it most likely
// designates. Paths without an extension get ext appended; a path that does
// not exist is retried with ext appended. The boolean reports whether the
// returned path exists on disk.
func Candidate(path, ext string) (string, bool) {
	path = filepath.Clean(path)
	if filepath.Ext(path) == "" {
		path += ext
	}
	if !Exists(path) && Exists(path+ext) {
		path += ext
	}
	return path, Exists(path)
}

// OutputDir returns the directory build artifacts of src are written to.
// Relative output directories are taken relative to the directory of src.
func OutputDir(src, outputDir string) string {
	if outputDir == "" {
		outputDir = "."
	}
	if filepath.IsAbs(outputDir) {
		return filepath.Clean(outputDir)
	}
	return filepath.Join(filepath.Dir(src), outputDir)
}

// Output derives the artifact path produced by building src, e.g.
// /p/doc.tex with output directory "out/" becomes /p/out/doc.pdf.
func Output(src, outputDir, artifactExt string) string {
	name := StripExt(filepath.Base(src)) + artifactExt
	return filepath.Join(OutputDir(src, outputDir), name)
}
