package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestWatcher(t *testing.T, d *Daemon) *Watcher {
	t.Helper()
	w, err := NewWatcher(d)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func TestWatchRepoThenUnwatchRepoDropsMapping(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-a")
	w := newTestWatcher(t, d)

	if err := w.WatchRepo("repo-a", layout.RepoRoot); err != nil {
		t.Fatalf("WatchRepo: %v", err)
	}

	inside := filepath.Join(layout.RepoRoot, "main.go")
	if got := w.repoFor(inside); got != "repo-a" {
		t.Fatalf("repoFor(%q) = %q, want repo-a", inside, got)
	}

	w.UnwatchRepo("repo-a")
	if got := w.repoFor(inside); got != "" {
		t.Fatalf("repoFor after UnwatchRepo = %q, want empty", got)
	}
}

func TestRepoForReturnsEmptyForUnrelatedPath(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-a")
	w := newTestWatcher(t, d)

	if err := w.WatchRepo("repo-a", layout.RepoRoot); err != nil {
		t.Fatalf("WatchRepo: %v", err)
	}

	elsewhere := filepath.Join(dir, "repo-b", "main.go")
	if got := w.repoFor(elsewhere); got != "" {
		t.Fatalf("repoFor(%q) = %q, want empty", elsewhere, got)
	}
}

func TestHandleEventDebouncesIntoSingleWakeRepo(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-a")
	ref := &fakeRefresher{}
	d.RegisterRepo("repo-a", layout.RepoRoot, layout, ref)

	w := newTestWatcher(t, d)
	w.debounce = 20 * time.Millisecond
	if err := w.WatchRepo("repo-a", layout.RepoRoot); err != nil {
		t.Fatalf("WatchRepo: %v", err)
	}

	ctx := context.Background()
	path := filepath.Join(layout.RepoRoot, "a.go")
	if err := os.WriteFile(path, []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	ev := fsnotify.Event{Name: path, Op: fsnotify.Write}
	for i := 0; i < 5; i++ {
		w.handleEvent(ctx, ev)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&ref.calls); got != 1 {
		t.Fatalf("IncrementalSync called %d times, want 1 (debounced)", got)
	}
}
