// Package cleaner removes auxiliary build files produced next to a root
// document and in its output directory.
package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/paths"
)

// Cleaner deletes files matching a fixed set of glob patterns. Patterns may
// use "**" to descend into subdirectories.
type Cleaner struct {
	patterns  []string
	outputDir string
	logger    logging.Logger
}

// New creates a cleaner for the given patterns. outputDir is interpreted
// like build.output_dir, relative to the root document.
func New(patterns []string, outputDir string, logger logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cleaner{
		patterns:  append([]string{}, patterns...),
		outputDir: outputDir,
		logger:    logger.WithComponent("cleaner"),
	}
}

// Dirs returns the directories searched for rootFile, without duplicates.
func (c *Cleaner) Dirs(rootFile string) []string {
	dirs := []string{filepath.Dir(rootFile)}
	if out := paths.OutputDir(rootFile, c.outputDir); out != dirs[0] {
		dirs = append(dirs, out)
	}
	return dirs
}

// Matches lists the files that Clean would remove, sorted. The root file
// itself is never included.
func (c *Cleaner) Matches(rootFile string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, dir := range c.Dirs(rootFile) {
		for _, pattern := range c.patterns {
			found, err := doublestar.GlobOS(rootedOS{dir: dir}, filepath.ToSlash(pattern))
			if err != nil {
				return nil, texerrors.NewConfigError(texerrors.ErrCodeInvalidConfig,
					"invalid clean pattern "+pattern).WithContext("cause", err.Error())
			}
			for _, rel := range found {
				f := filepath.Join(dir, rel)
				info, err := os.Stat(f)
				if err != nil || info.IsDir() || f == rootFile {
					continue
				}
				seen[f] = struct{}{}
			}
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// rootedOS resolves the relative paths doublestar walks against dir, so
// glob characters in dir itself are never interpreted.
type rootedOS struct {
	dir string
}

func (r rootedOS) Lstat(name string) (os.FileInfo, error) { return os.Lstat(r.path(name)) }
func (r rootedOS) Open(name string) (*os.File, error)     { return os.Open(r.path(name)) }
func (r rootedOS) PathSeparator() rune                    { return os.PathSeparator }
func (r rootedOS) Stat(name string) (os.FileInfo, error)  { return os.Stat(r.path(name)) }

func (r rootedOS) path(name string) string {
	return filepath.Join(r.dir, name)
}

// Clean removes matching files and returns the removed paths. Failing to
// remove one file does not stop the others; the first failure is returned.
func (c *Cleaner) Clean(ctx context.Context, rootFile string) ([]string, error) {
	files, err := c.Matches(rootFile)
	if err != nil {
		return nil, err
	}

	var firstErr error
	removed := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(f); err != nil {
			c.logger.Warn(ctx, err, "Failed to remove file", "path", f)
			if firstErr == nil {
				firstErr = texerrors.NewIOError(texerrors.ErrCodeCleanupFailed, "cleanup failed", err).WithPath(f)
			}
			continue
		}
		removed = append(removed, f)
	}

	c.logger.Info(ctx, "Cleaned auxiliary files", "root", rootFile, "removed", len(removed))
	return removed, firstErr
}
