package depgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/conneroisu/texwork/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memWatchSet is an in-memory WatchSet that counts subscriptions.
type memWatchSet struct {
	paths   map[string]int
	failing map[string]bool
}

func newMemWatchSet() *memWatchSet {
	return &memWatchSet{paths: make(map[string]int), failing: make(map[string]bool)}
}

func (m *memWatchSet) Add(path string) (bool, error) {
	if m.failing[path] {
		return false, errors.New("subscribe failed")
	}
	if _, ok := m.paths[path]; ok {
		return false, nil
	}
	m.paths[path]++
	return true, nil
}

func (m *memWatchSet) Remove(path string) bool {
	if _, ok := m.paths[path]; !ok {
		return false
	}
	delete(m.paths, path)
	return true
}

func (m *memWatchSet) Contains(path string) bool {
	_, ok := m.paths[path]
	return ok
}

func (m *memWatchSet) list() []string {
	out := make([]string, 0, len(m.paths))
	for p := range m.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScanDiscoversIncludes(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\documentclass{article}
\begin{document}
\input{chap1}
\include{chapters/chap2.tex}
\subfile[draft]{appendix}
\input{missing}
\end{document}`)
	chap1 := write(t, dir, "chap1.tex", "chapter one")
	chap2 := write(t, dir, "chapters/chap2.tex", `\input{chap1}`)
	appendix := write(t, dir, "appendix.tex", "appendix")

	ws := newMemWatchSet()
	g, err := New(root, ".tex", ws, nil)
	require.NoError(t, err)

	discovered := g.Scan(context.Background(), root)

	assert.ElementsMatch(t, []string{chap1, chap2, appendix}, discovered)
	assert.Equal(t, []string{appendix, chap1, chap2}, g.Includes(root))
	assert.Equal(t, []string{chap1}, g.Includes(chap2), "includes resolve relative to the root directory")
	assert.ElementsMatch(t, []string{root, chap1, chap2, appendix}, ws.list())
	for _, p := range ws.list() {
		assert.Equal(t, 1, ws.paths[p])
	}
}

func TestScanTerminatesOnCycles(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.tex", `\input{b}`)
	b := write(t, dir, "b.tex", `\input{a}`)

	ws := newMemWatchSet()
	g, err := New(a, ".tex", ws, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		g.Scan(context.Background(), a)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not terminate on a cyclic include graph")
	}

	assert.Equal(t, []string{a, b}, ws.list())
	assert.Equal(t, []string{b}, g.Includes(a))
	assert.Equal(t, []string{a}, g.Includes(b))
}

func TestSelfInclude(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.tex", `\input{a}`)

	ws := newMemWatchSet()
	g, err := New(a, ".tex", ws, nil)
	require.NoError(t, err)

	assert.Empty(t, g.Scan(context.Background(), a))
	assert.Equal(t, []string{a}, g.Includes(a))
}

func TestRescanReplacesEdges(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\input{one}\input{two}`)
	one := write(t, dir, "one.tex", "")
	two := write(t, dir, "two.tex", "")

	ws := newMemWatchSet()
	g, err := New(root, ".tex", ws, nil)
	require.NoError(t, err)
	g.Scan(context.Background(), root)
	require.Equal(t, []string{one, two}, g.Includes(root))

	write(t, dir, "main.tex", `\input{two}`)
	assert.Empty(t, g.Scan(context.Background(), root), "already watched files are not walked again")
	assert.Equal(t, []string{two}, g.Includes(root))
	assert.True(t, ws.Contains(one), "dropped includes stay watched until deleted")
}

func TestUnreadableFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\input{gone}`)
	gone := write(t, dir, "gone.tex", "")

	ws := newMemWatchSet()
	g, err := New(root, ".tex", ws, nil)
	require.NoError(t, err)
	g.Scan(context.Background(), root)
	require.NoError(t, os.Remove(gone))

	assert.NotPanics(t, func() {
		assert.Empty(t, g.Scan(context.Background(), gone))
	})
	assert.Equal(t, []string{gone}, g.Includes(root))
}

func TestSubscribeFailureSkipsTarget(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\input{a}\input{b}`)
	a := write(t, dir, "a.tex", "")
	b := write(t, dir, "b.tex", "")

	ws := newMemWatchSet()
	ws.failing[a] = true
	g, err := New(root, ".tex", ws, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{b}, g.Scan(context.Background(), root))
}

func TestNewFailsWhenRootCannotBeWatched(t *testing.T) {
	ws := newMemWatchSet()
	ws.failing["/p/main.tex"] = true

	_, err := New("/p/main.tex", ".tex", ws, nil)
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\input{a}`)
	a := write(t, dir, "a.tex", `\input{b}`)
	b := write(t, dir, "b.tex", "")
	stray := write(t, dir, "stray.tex", "")

	ws := newMemWatchSet()
	g, err := New(root, ".tex", ws, nil)
	require.NoError(t, err)
	g.Scan(context.Background(), root)

	assert.Equal(t, root, g.Root())
	assert.Equal(t, []string{a, b, root}, g.Files())
	assert.Equal(t, []string{a, b, root}, g.Reachable())
	assert.NotContains(t, g.Files(), stray)
	assert.Equal(t, []string{b}, g.Includes(a))
	assert.Empty(t, g.Includes(b))

	assert.True(t, g.Remove(b))
	assert.False(t, ws.Contains(b))
	assert.Contains(t, g.Files(), b, "edges persist after the file stops being watched")
}

func TestScanWithFileWatcher(t *testing.T) {
	dir := t.TempDir()
	root := write(t, dir, "main.tex", `\input{chap1}`)
	chap1 := write(t, dir, "chap1.tex", `\input{main}`)

	fw, err := watcher.NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	g, err := New(root, ".tex", fw, nil)
	require.NoError(t, err)
	g.Scan(context.Background(), root)

	assert.Equal(t, []string{chap1, root}, fw.Paths())
}
