// Package watcher owns the set of files under filesystem observation and
// turns fsnotify activity on them into debounced change and delete events.
//
// Individual files are subscribed by watching their parent directory, so
// editors that save through a temporary file and a rename keep being
// observed. Events for files outside the watched set are dropped.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/texwork/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a set of files with debouncing
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	files     map[string]struct{}
	dirs      map[string]int
	logger    logging.Logger
	stopOnce  sync.Once
	mutex     sync.RWMutex
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeModified EventType = iota
	EventTypeDeleted
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileFilter determines if an event for path should be delivered
type FileFilter func(path string) bool

// ChangeHandler handles file change events
type ChangeHandler func(events []ChangeEvent) error

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	done    chan struct{}
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	debouncer := &Debouncer{
		delay:   debounceDelay,
		events:  make(chan ChangeEvent, 256),
		output:  make(chan []ChangeEvent, 16),
		done:    make(chan struct{}),
		pending: make([]ChangeEvent, 0),
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: debouncer,
		filters:   make([]FileFilter, 0),
		handlers:  make([]ChangeHandler, 0),
		files:     make(map[string]struct{}),
		dirs:      make(map[string]int),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Add subscribes path. It reports false when path was already watched.
func (fw *FileWatcher) Add(path string) (bool, error) {
	clean, err := normalize(path)
	if err != nil {
		return false, err
	}

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if _, ok := fw.files[clean]; ok {
		return false, nil
	}

	dir := filepath.Dir(clean)
	if fw.dirs[dir] == 0 {
		if err := fw.watcher.Add(dir); err != nil {
			return false, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	fw.dirs[dir]++
	fw.files[clean] = struct{}{}
	return true, nil
}

// Remove unsubscribes path. It reports false when path was not watched.
func (fw *FileWatcher) Remove(path string) bool {
	clean, err := normalize(path)
	if err != nil {
		return false
	}

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if _, ok := fw.files[clean]; !ok {
		return false
	}
	delete(fw.files, clean)

	dir := filepath.Dir(clean)
	fw.dirs[dir]--
	if fw.dirs[dir] <= 0 {
		delete(fw.dirs, dir)
		// The directory may already be gone together with the file.
		_ = fw.watcher.Remove(dir)
	}
	return true
}

// Contains reports whether path is in the watched set.
func (fw *FileWatcher) Contains(path string) bool {
	clean, err := normalize(path)
	if err != nil {
		return false
	}
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	_, ok := fw.files[clean]
	return ok
}

// Paths returns the watched set, sorted.
func (fw *FileWatcher) Paths() []string {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	paths := make([]string, 0, len(fw.files))
	for p := range fw.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func normalize(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	return abs, nil
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher, clears the watched set and releases the
// underlying fsnotify watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.debouncer.stop()

		fw.mutex.Lock()
		fw.files = make(map[string]struct{})
		fw.dirs = make(map[string]int)
		fw.mutex.Unlock()

		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if !fw.Contains(event.Name) {
		return
	}
	path, _ := normalize(event.Name)

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(path) {
			return
		}
	}

	info, statErr := os.Stat(path)
	var modTime time.Time
	var size int64
	if statErr == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	// A remove or rename only counts as a delete if the file is really
	// gone; atomic saves replace the file under the same name.
	var eventType EventType
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if statErr == nil {
			eventType = EventTypeModified
		} else {
			eventType = EventTypeDeleted
		}
	default:
		eventType = EventTypeModified
	}

	changeEvent := ChangeEvent{
		Type:    eventType,
		Path:    path,
		ModTime: modTime,
		Size:    size,
	}

	select {
	case fw.debouncer.events <- changeEvent:
	default:
		fw.logger.Warn(context.Background(), nil, "Dropping file event, queue full", "path", path)
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.debouncer.done:
			return
		case events := <-fw.debouncer.output:
			fw.dispatch(ctx, events)
		}
	}
}

func (fw *FileWatcher) dispatch(ctx context.Context, events []ChangeEvent) {
	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(events); err != nil {
			fw.logger.Warn(ctx, err, "File watcher handler error")
		}
	}
}

func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.pending) == 0 {
		d.mutex.Unlock()
		return
	}

	// Last event per path wins.
	eventMap := make(map[string]ChangeEvent, len(d.pending))
	for _, event := range d.pending {
		eventMap[event.Path] = event
	}
	d.pending = d.pending[:0]
	d.mutex.Unlock()

	events := make([]ChangeEvent, 0, len(eventMap))
	for _, event := range eventMap {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
	case <-d.done:
	}
}

func (d *Debouncer) stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.done)
}

// ExtensionFilter accepts paths ending in ext.
func ExtensionFilter(ext string) FileFilter {
	return func(path string) bool {
		return filepath.Ext(path) == ext
	}
}

// NoHiddenFilter rejects dotfiles such as editor swap files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}
