package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 2 * time.Second

// Watcher watches the repository and rebuilds the index once changes
// have settled. Every rebuild is a full Index run.
type Watcher struct {
	indexer  *Indexer
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onIndex  func(*Result, error)

	// Debouncing
	pendingMu  sync.Mutex
	pending    bool
	lastChange time.Time
	changes    int
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Indexer  *Indexer
	Debounce time.Duration        // Default: DefaultDebounce
	OnIndex  func(*Result, error) // called after every rebuild
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		indexer:  cfg.Indexer,
		watcher:  watcher,
		debounce: debounce,
		onIndex:  cfg.OnIndex,
	}, nil
}

// Watch starts watching for file changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(w.indexer.projectDir); err != nil {
		return err
	}

	slog.Info("watching for file changes", "dir", w.indexer.projectDir, "debounce", w.debounce)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event, time.Now()) && event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addWatchDirs(event.Name); err != nil {
						slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs adds dir and every directory below it that is not ignored.
func (w *Watcher) addWatchDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && w.indexer.ignore.Match(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.indexer.projectDir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// handleEvent records a relevant change at now. Events on ignored paths
// and chmod-only events are dropped.
func (w *Watcher) handleEvent(event fsnotify.Event, now time.Time) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	rel, ok := w.rel(event.Name)
	if !ok || rel == "." || w.indexer.ignore.Match(rel) {
		return false
	}

	w.pendingMu.Lock()
	w.pending = true
	w.lastChange = now
	w.changes++
	w.pendingMu.Unlock()

	slog.Debug("file changed", "path", rel, "op", event.Op.String())
	return true
}

// processDebounced checks for settled changes until ctx is done.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.processPending(ctx, now)
		}
	}
}

// processPending rebuilds the index if the last change is at least one
// debounce period old. It reports whether a rebuild ran.
func (w *Watcher) processPending(ctx context.Context, now time.Time) bool {
	w.pendingMu.Lock()
	if !w.pending || now.Sub(w.lastChange) < w.debounce {
		w.pendingMu.Unlock()
		return false
	}
	changes := w.changes
	w.pending = false
	w.changes = 0
	w.pendingMu.Unlock()

	slog.Info("re-indexing after changes", "events", changes)
	result, err := w.indexer.Index(ctx)
	if err != nil {
		slog.Error("re-index failed", "error", err)
	}
	if w.onIndex != nil {
		w.onIndex(result, err)
	}
	return true
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
