// Package watcher turns filesystem notifications under a project
// directory into debounced batches of change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/htmlforge/internal/logging"
)

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
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether a path should produce events.
type FileFilter func(path string) bool

// ChangeHandler receives one debounced batch, sorted by path.
type ChangeHandler func(events []ChangeEvent) error

// FileWatcher watches directory trees for changes.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	delay   time.Duration
	logger  logging.Logger

	mutex    sync.RWMutex
	filters  []FileFilter
	handlers []ChangeHandler

	pendingMu sync.Mutex
	pending   map[string]ChangeEvent
	timer     *time.Timer
	stopped   bool
	flushes   chan []ChangeEvent

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileWatcher creates a watcher that delivers events delay after the
// last change of a burst.
func NewFileWatcher(delay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &FileWatcher{
		watcher: w,
		delay:   delay,
		logger:  logger.WithComponent("watcher"),
		pending: make(map[string]ChangeEvent),
		flushes: make(chan []ChangeEvent, 8),
	}, nil
}

// AddFilter adds a filter. A path must pass every filter.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler.
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches root and every directory below it that passes the
// filters.
func (fw *FileWatcher) AddRecursive(root string) error {
	root = filepath.Clean(root)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && !fw.accept(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// WatchList returns the watched directories.
func (fw *FileWatcher) WatchList() []string {
	list := fw.watcher.WatchList()
	sort.Strings(list)
	return list
}

func (fw *FileWatcher) accept(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// Start processes events until ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) {
	fw.wg.Add(2)
	go fw.watchLoop(ctx)
	go fw.processEvents(ctx)
}

// Stop closes the watcher and waits for its goroutines.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		err = fw.watcher.Close()
		fw.pendingMu.Lock()
		fw.stopped = true
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.pendingMu.Unlock()
		close(fw.flushes)
		fw.wg.Wait()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.wg.Done()
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
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	if !fw.accept(event.Name) {
		return
	}

	change := ChangeEvent{Path: event.Name}
	if info, err := os.Stat(event.Name); err == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
		if info.IsDir() && event.Has(fsnotify.Create) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(context.Background(), err, "watch new directory", "path", event.Name)
			}
		}
	}

	switch {
	case event.Has(fsnotify.Create):
		change.Type = EventTypeCreated
	case event.Has(fsnotify.Write):
		change.Type = EventTypeModified
	case event.Has(fsnotify.Remove):
		change.Type = EventTypeDeleted
	case event.Has(fsnotify.Rename):
		change.Type = EventTypeRenamed
	default:
		change.Type = EventTypeModified
	}
	fw.addEvent(change)
}

// addEvent records change and restarts the debounce timer. Later events
// for a path replace earlier ones.
func (fw *FileWatcher) addEvent(change ChangeEvent) {
	fw.pendingMu.Lock()
	defer fw.pendingMu.Unlock()

	if fw.stopped {
		return
	}
	fw.pending[change.Path] = change
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.delay, fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.pendingMu.Lock()
	defer fw.pendingMu.Unlock()
	if fw.stopped || len(fw.pending) == 0 {
		return
	}

	events := make([]ChangeEvent, 0, len(fw.pending))
	for _, ev := range fw.pending {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	fw.pending = make(map[string]ChangeEvent)

	select {
	case fw.flushes <- events:
	default:
		fw.logger.Warn(context.Background(), errors.New("event queue full"), "dropping change batch", "events", len(events))
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-fw.flushes:
			if !ok {
				return
			}
			fw.mutex.RLock()
			handlers := append([]ChangeHandler(nil), fw.handlers...)
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Error(ctx, err, "change handler failed", "events", len(events))
				}
			}
		}
	}
}

// IgnoreDirs rejects paths with any of names as a path segment.
func IgnoreDirs(names ...string) FileFilter {
	return func(path string) bool {
		for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
			for _, name := range names {
				if seg == name {
					return false
				}
			}
		}
		return true
	}
}

// IgnoreTree rejects root and everything below it.
func IgnoreTree(root string) FileFilter {
	root = filepath.Clean(root)
	return func(path string) bool {
		path = filepath.Clean(path)
		return path != root && !strings.HasPrefix(path, root+string(filepath.Separator))
	}
}

// NoEditorTempFilter rejects swap and backup files written by editors.
func NoEditorTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp") &&
		!strings.HasPrefix(base, ".#")
}
