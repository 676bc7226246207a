// Package depgraph maintains the include graph of a root document.
//
// The graph maps every scanned file to the set of files it directly
// includes. Scanning only descends into targets that are not yet watched,
// which makes cyclic includes terminate: the watched set doubles as the
// visited set of the traversal.
package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	texerrors "github.com/conneroisu/texwork/internal/errors"
	"github.com/conneroisu/texwork/internal/logging"
	"github.com/conneroisu/texwork/internal/paths"
)

// includePattern matches \input{X}, \include{X} and \subfile{X}, optionally
// with a bracketed option group before the braces.
var includePattern = regexp.MustCompile(`\\(?:input|include|subfile)(?:\[[^\[\]{}]*\])?\{([^}]*)\}`)

// WatchSet is the subscription side of the watch service.
type WatchSet interface {
	// Add subscribes path and reports whether it was newly added.
	Add(path string) (bool, error)
	Remove(path string) bool
	Contains(path string) bool
}

// Graph is the include graph of one root document. It is not safe for
// concurrent use; the build session owns it.
type Graph struct {
	root   string
	ext    string
	edges  map[string]map[string]struct{}
	watch  WatchSet
	logger logging.Logger
}

// New creates the graph for root and subscribes root itself.
func New(root, ext string, watch WatchSet, logger logging.Logger) (*Graph, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	g := &Graph{
		root:   filepath.Clean(root),
		ext:    ext,
		edges:  make(map[string]map[string]struct{}),
		watch:  watch,
		logger: logger.WithComponent("depgraph"),
	}
	if _, err := watch.Add(g.root); err != nil {
		return nil, texerrors.NewIOError(texerrors.ErrCodeWatchSubscribe, "cannot watch root file", err).WithPath(g.root)
	}
	return g, nil
}

// Root returns the root document of the graph.
func (g *Graph) Root() string {
	return g.root
}

// Scan reads file, replaces its edge set with the includes found in it and
// walks every newly discovered include. It returns the files that became
// watched during this scan. Unreadable files are logged and skipped.
func (g *Graph) Scan(ctx context.Context, file string) []string {
	var discovered []string
	stack := []string{filepath.Clean(file)}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		targets, err := g.scanFile(ctx, current)
		if err != nil {
			g.logger.Warn(ctx, texerrors.NewWatchGap(current, err), "Skipping unreadable dependency")
			continue
		}

		for _, target := range targets {
			added, err := g.watch.Add(target)
			if err != nil {
				g.logger.Warn(ctx, err, "Cannot watch dependency", "path", target)
				continue
			}
			if !added {
				continue
			}
			g.logger.Debug(ctx, "Added dependency to watcher", "path", target, "included_by", current)
			discovered = append(discovered, target)
			stack = append(stack, target)
		}
	}

	return discovered
}

// scanFile replaces the edge set of file and returns its existing targets in
// document order.
func (g *Graph) scanFile(ctx context.Context, file string) ([]string, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	g.logger.Debug(ctx, "Parsing file", "path", file)

	edges := make(map[string]struct{})
	var targets []string
	for _, match := range includePattern.FindAllStringSubmatch(string(content), -1) {
		target, ok := g.resolve(match[1])
		if !ok {
			g.logger.Debug(ctx, "Include target does not exist", "include", match[1], "in", file)
			continue
		}
		if _, seen := edges[target]; seen {
			continue
		}
		edges[target] = struct{}{}
		targets = append(targets, target)
	}
	g.edges[file] = edges
	return targets, nil
}

// resolve maps an include argument to a file, relative to the root's
// directory.
func (g *Graph) resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(g.root), ref)
	}
	return paths.Candidate(p, g.ext)
}

// Remove drops path from the watched set. Its edges stay in the graph
// until the path is scanned again.
func (g *Graph) Remove(path string) bool {
	return g.watch.Remove(filepath.Clean(path))
}

// Includes returns the direct includes of file, sorted.
func (g *Graph) Includes(file string) []string {
	return sortedKeys(g.edges[filepath.Clean(file)])
}

// Files returns every scanned file, sorted.
func (g *Graph) Files() []string {
	files := make([]string, 0, len(g.edges))
	for f := range g.edges {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Reachable returns every file reachable from the root, root included.
func (g *Graph) Reachable() []string {
	seen := map[string]struct{}{g.root: {}}
	queue := []string{g.root}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for target := range g.edges[current] {
			if _, ok := seen[target]; ok {
				continue
			}
			seen[target] = struct{}{}
			queue = append(queue, target)
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
