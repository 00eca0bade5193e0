// Package watcher reloads the project configuration when it changes on
// disk and applies the indexing toggle without a restart.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/issueindex/internal/config"
)

// Operation is a file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// DefaultDebounceWindow is used when New is given zero.
const DefaultDebounceWindow = 200 * time.Millisecond

// Toggle is the indexing switch the watcher drives.
type Toggle interface {
	Enable()
	Disable()
	IsEnabled() bool
}

// ConfigWatcher watches one configuration file. It watches the parent
// directory so that editors replacing the file by rename are seen.
type ConfigWatcher struct {
	path      string
	target    Toggle
	debouncer *Debouncer

	// OnReload, if set, receives every successfully parsed configuration.
	OnReload func(*config.Config)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	done    chan struct{}
	stopped bool
}

// New creates a watcher for path driving target.
func New(path string, target Toggle, window time.Duration) *ConfigWatcher {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &ConfigWatcher{
		path:      filepath.Clean(path),
		target:    target,
		debouncer: NewDebouncer(window),
		done:      make(chan struct{}),
	}
}

// Start begins watching. It returns once the watch is registered; events
// are processed until Stop is called or ctx ends.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil || w.stopped {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	go w.readEvents(ctx, fsw)
	go w.applyBatches()

	slog.Debug("config_watch_started", slog.String("path", w.path))
	return nil
}

func (w *ConfigWatcher) readEvents(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				w.debouncer.Stop()
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.debouncer.Add(FileEvent{Path: w.path, Operation: toOperation(ev.Op), Timestamp: time.Now()})
		case err, ok := <-fsw.Errors:
			if !ok {
				w.debouncer.Stop()
				return
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *ConfigWatcher) applyBatches() {
	for batch := range w.debouncer.Output() {
		for _, ev := range batch {
			if ev.Operation == OpDelete || ev.Operation == OpRename {
				slog.Debug("config_file_removed", slog.String("path", ev.Path))
				continue
			}
			w.Reload()
		}
	}
}

// Reload parses the file and applies index.enabled. A file that does not
// parse is logged and ignored, keeping the current state.
func (w *ConfigWatcher) Reload() {
	cfg, err := config.LoadFile(w.path)
	if err != nil {
		slog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	enabled := cfg.Index.IsEnabled()
	if enabled != w.target.IsEnabled() {
		if enabled {
			w.target.Enable()
		} else {
			w.target.Disable()
		}
		slog.Info("config_reloaded", slog.Bool("indexing_enabled", enabled))
	}
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}

// Stop ends the watch. It is safe to call more than once.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw := w.fsw
	w.mu.Unlock()

	if fsw == nil {
		w.debouncer.Stop()
		return nil
	}
	err := fsw.Close()
	<-w.done
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func toOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpModify
	}
}
