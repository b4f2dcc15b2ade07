package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/llmc-dev/rag-core/workspace"
)

const watchDebounce = 2 * time.Second

// Watcher gives the refresh loop a fast path: a filesystem event under a
// watched repo debounces into an immediate single-repo refresh instead of
// waiting for that repo to age past RefreshInterval on the next scheduled
// tick. It is optional — a Daemon works fine with no Watcher attached, since
// Run's own poll loop reaches every repo on its regular schedule regardless.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	daemon   *Daemon

	mu     sync.Mutex
	roots  map[string]string // repoID -> canonical root
	timers map[string]*time.Timer
}

// NewWatcher creates a Watcher that triggers d.WakeRepo shortly after a
// filesystem event is observed under one of its watched repos.
func NewWatcher(d *Daemon) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("daemon: creating watcher: %w", err)
	}
	return &Watcher{
		fsw:      fsw,
		debounce: watchDebounce,
		daemon:   d,
		roots:    map[string]string{},
		timers:   map[string]*time.Timer{},
	}, nil
}

// WatchRepo recursively adds root to the watch set under repoID, skipping
// its own .llmc workspace directory and .git.
func (w *Watcher) WatchRepo(repoID, root string) error {
	w.mu.Lock()
	w.roots[repoID] = root
	w.mu.Unlock()

	return addRecursive(w.fsw, root)
}

// UnwatchRepo stops mapping events under root to repoID. Already-registered
// fsnotify directory watches are left in place — fsnotify has no bulk
// remove-by-prefix — but events arriving for them are simply dropped in
// repoFor once the mapping is gone.
func (w *Watcher) UnwatchRepo(repoID string) {
	w.mu.Lock()
	delete(w.roots, repoID)
	if t, ok := w.timers[repoID]; ok {
		t.Stop()
		delete(w.timers, repoID)
	}
	w.mu.Unlock()
}

// Run drains filesystem events until ctx is canceled, debouncing each
// repo's events independently before calling Daemon.WakeRepo.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("daemon: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = addRecursive(w.fsw, ev.Name)
		}
	}

	repoID := w.repoFor(ev.Name)
	if repoID == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[repoID]; ok {
		t.Stop()
	}
	w.timers[repoID] = time.AfterFunc(w.debounce, func() {
		w.daemon.WakeRepo(ctx, repoID)
	})
}

func (w *Watcher) repoFor(path string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, root := range w.roots {
		if workspace.IsInside(root, path) {
			return id
		}
	}
	return ""
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name == ".llmc" || name == ".git" {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			slog.Warn("daemon: watch add failed", "path", path, "error", err)
		}
		return nil
	})
}
