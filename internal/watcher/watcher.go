// Package watcher observes a directory tree with fsnotify and emits raw
// change events on a channel. It does no debouncing of its own; consumers
// decide what a burst of events means.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conneroisu/meread/internal/errors"
	"github.com/conneroisu/meread/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// EventType represents the type of file change
type EventType int

const (
	EventTypeOther EventType = iota
	EventTypeCreated
	EventTypeModified
	EventTypeRemoved
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeRemoved:
		return "removed"
	default:
		return "other"
	}
}

// Relevant reports whether the event kind changes file content.
func (e EventType) Relevant() bool {
	return e == EventTypeCreated || e == EventTypeModified || e == EventTypeRemoved
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	Path string
}

// FileFilter determines if a file should be reported
type FileFilter func(path string) bool

// FileWatcher watches a directory tree and emits ChangeEvents.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	events  chan ChangeEvent
	filters []FileFilter
	logger  logging.Logger
	mutex   sync.RWMutex
	once    sync.Once
	done    chan struct{}
}

// NewFileWatcher creates a watcher for root and every directory below it.
// Failing to set up observation is reported as a WatchSetupError.
func NewFileWatcher(root string, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewWatchSetupError(root, err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		root:    filepath.Clean(root),
		events:  make(chan ChangeEvent, 100),
		logger:  logger.WithComponent("watcher"),
		done:    make(chan struct{}),
	}

	if err := fw.addRecursive(fw.root); err != nil {
		_ = watcher.Close()
		return nil, errors.NewWatchSetupError(root, err)
	}

	return fw, nil
}

// AddFilter adds a file filter. All filters must accept a path for its
// events to be emitted.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Events returns the channel of raw change events. It is closed when the
// watcher stops.
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Start runs the watch loop until ctx is cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.watchLoop(ctx)
}

// Stop stops the file watcher and releases the underlying watch handles.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.once.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

func skipDir(name string) bool {
	return name == ".git" || name == "node_modules"
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	changeEvent := ChangeEvent{
		Type: convertOp(event.Op),
		Path: event.Name,
	}

	if changeEvent.Type == EventTypeCreated {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skipDir(info.Name()) {
			if err := fw.addRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
			}
		}
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	select {
	case fw.events <- changeEvent:
	case <-ctx.Done():
	case <-fw.done:
	}
}

func convertOp(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return EventTypeRemoved
	default:
		return EventTypeOther
	}
}

// NoGitFilter skips events inside .git directories.
func NoGitFilter(path string) bool {
	slashed := filepath.ToSlash(path)
	return !strings.HasPrefix(slashed, ".git/") && !strings.Contains(slashed, "/.git/")
}

// PathFilter only accepts events for the given file.
func PathFilter(file string) FileFilter {
	want := filepath.Clean(file)
	if abs, err := filepath.Abs(want); err == nil {
		want = abs
	}
	return func(path string) bool {
		got := filepath.Clean(path)
		if abs, err := filepath.Abs(got); err == nil {
			got = abs
		}
		return got == want
	}
}
