// Package root determines which document is the compilation root.
//
// Resolution runs an ordered chain of strategies and takes the first one
// that yields a path: a root magic comment in the focused document, the
// focused document itself when it starts a document, the previously
// resolved root, and finally a scan of the workspace directory.
package root

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/paths"
)

// Document is the focused document as reported by the editor.
type Document struct {
	Path string
	Text string
}

// Context is the input of one resolution.
type Context struct {
	Active        *Document
	WorkspaceRoot string
	Cached        string
}

// Strategy inspects the context and returns a root candidate.
type Strategy struct {
	Name string
	Find func(c Context) (string, bool)
}

// Result describes a successful resolution.
type Result struct {
	Path     string
	Strategy string
	// Changed is set when Path differs from the previously resolved root.
	Changed bool
}

// Locator resolves and remembers the root file.
type Locator struct {
	markers    *Markers
	ext        string
	strategies []Strategy
	current    string
	logger     logging.Logger
}

// NewLocator creates a locator for sources with extension ext.
func NewLocator(markers *Markers, ext string, logger logging.Logger) *Locator {
	if logger == nil {
		logger = logging.Nop()
	}
	l := &Locator{
		markers: markers,
		ext:     ext,
		logger:  logger.WithComponent("root"),
	}
	l.strategies = []Strategy{
		{Name: "magic", Find: l.findMagic},
		{Name: "self", Find: l.findSelf},
		{Name: "cached", Find: l.findCached},
		{Name: "directory", Find: l.findInDirectory},
	}
	return l
}

// Resolve runs the strategy chain. It reports false when no strategy
// matched, in which case the remembered root is left untouched.
func (l *Locator) Resolve(ctx context.Context, active *Document, workspaceRoot string) (Result, bool) {
	c := Context{Active: active, WorkspaceRoot: workspaceRoot, Cached: l.current}

	for _, s := range l.strategies {
		path, ok := s.Find(c)
		if !ok {
			continue
		}
		path = filepath.Clean(path)
		result := Result{Path: path, Strategy: s.Name, Changed: path != l.current}
		if result.Changed {
			l.logger.Info(ctx, "Root file changed", "from", l.current, "to", path, "strategy", s.Name)
			l.current = path
		} else {
			l.logger.Debug(ctx, "Root file unchanged", "root", path)
		}
		return result, true
	}

	l.logger.Info(ctx, "Cannot find root file", "workspace", workspaceRoot)
	return Result{}, false
}

func (l *Locator) findMagic(c Context) (string, bool) {
	if c.Active == nil {
		return "", false
	}
	ref, ok := l.markers.Root(c.Active.Text)
	if !ok {
		return "", false
	}
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(filepath.Dir(c.Active.Path), ref)
	}
	if filepath.Ext(ref) == "" {
		ref += l.ext
	}
	return ref, true
}

func (l *Locator) findSelf(c Context) (string, bool) {
	if c.Active == nil || c.Active.Path == "" {
		return "", false
	}
	if !l.markers.IsDocumentRoot(c.Active.Text) {
		return "", false
	}
	return c.Active.Path, true
}

func (l *Locator) findCached(c Context) (string, bool) {
	if c.Cached == "" || !paths.Exists(c.Cached) {
		return "", false
	}
	return c.Cached, true
}

func (l *Locator) findInDirectory(c Context) (string, bool) {
	if c.WorkspaceRoot == "" {
		return "", false
	}
	entries, err := os.ReadDir(c.WorkspaceRoot)
	if err != nil {
		return "", false
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !paths.HasExt(e.Name(), l.ext) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		file := filepath.Join(c.WorkspaceRoot, name)
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if l.markers.IsDocumentRoot(string(content)) {
			abs, err := filepath.Abs(file)
			if err != nil {
				return file, true
			}
			return abs, true
		}
	}
	return "", false
}
