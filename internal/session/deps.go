package session

import (
	"context"
	"path/filepath"

	"github.com/conneroisu/texwork/internal/depgraph"
	"github.com/conneroisu/texwork/internal/watcher"
)

// resolve runs root resolution and makes sure the watcher and graph belong
// to the resolved root.
func (s *Session) resolve(ctx context.Context) (string, bool) {
	result, ok := s.locator.Resolve(ctx, s.editor.ActiveDocument(), s.editor.WorkspaceRoot())
	if !ok {
		return "", false
	}

	rootFile := result.Path
	if abs, err := filepath.Abs(rootFile); err == nil {
		rootFile = abs
	}

	s.rootFile = rootFile
	if s.graph == nil || s.graph.Root() != rootFile || !s.watch.Contains(rootFile) {
		s.rebuildDependencies(ctx)
	}
	return rootFile, true
}

// rebuildDependencies replaces the watcher and graph with fresh ones for
// the current root.
func (s *Session) rebuildDependencies(ctx context.Context) {
	s.closeWatcher()

	w, err := s.watchers()
	if err != nil {
		s.logger.Error(ctx, err, "Cannot create file watcher")
		return
	}

	s.generation++
	generation := s.generation
	w.AddHandler(func(changes []watcher.ChangeEvent) error {
		s.post(watchEvent{generation: generation, changes: changes})
		return nil
	})

	graph, err := depgraph.New(s.rootFile, s.cfg.Source.Extension, w, s.logger)
	if err != nil {
		s.logger.Warn(ctx, err, "Cannot watch root file", "root", s.rootFile)
		_ = w.Stop()
		return
	}
	if err := w.Start(ctx); err != nil {
		s.logger.Error(ctx, err, "Cannot start file watcher")
		_ = w.Stop()
		return
	}

	s.watch = w
	s.graph = graph
	discovered := graph.Scan(ctx, s.rootFile)
	s.logger.Info(ctx, "Watching dependencies", "root", s.rootFile, "files", len(discovered)+1)
	s.notifier.GraphChanged(s.rootFile, graph.Reachable())
}

func (s *Session) closeWatcher() {
	if s.watch != nil {
		_ = s.watch.Stop()
	}
	s.watch = nil
	s.graph = nil
}

func (s *Session) handleWatch(ctx context.Context, e watchEvent) {
	if e.generation != s.generation || s.graph == nil {
		s.logger.Debug(ctx, "Discarding events of a closed watcher", "generation", e.generation)
		return
	}

	graph := s.graph
	build := false
	rootDeleted := false
	for _, change := range e.changes {
		switch change.Type {
		case watcher.EventTypeDeleted:
			s.logger.Debug(ctx, "Dependency deleted", "path", change.Path)
			graph.Remove(change.Path)
			if change.Path == s.rootFile {
				rootDeleted = true
			}
		default:
			s.logger.Debug(ctx, "Dependency changed", "path", change.Path)
			graph.Scan(ctx, change.Path)
			if s.cfg.AutoBuild.OnChange && !s.isActive(change.Path) {
				build = true
			}
		}
	}

	if rootDeleted {
		s.logger.Info(ctx, "Root file deleted, resolving again", "root", s.rootFile)
		s.resolve(ctx)
	}
	// A new root comes with a new graph that has already been reported.
	if s.graph == graph {
		s.notifier.GraphChanged(s.rootFile, graph.Reachable())
	}
	if build {
		s.startBuild(ctx, buildRequest{reason: "change"})
	}
}

// isActive reports whether path is the focused document, whose saves are
// handled by NotifySaved.
func (s *Session) isActive(path string) bool {
	doc := s.editor.ActiveDocument()
	if doc == nil || doc.Path == "" {
		return false
	}
	abs, err := filepath.Abs(doc.Path)
	if err != nil {
		return false
	}
	return abs == path
}
