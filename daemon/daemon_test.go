package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/llmc-dev/rag-core/concurrency"
	"github.com/llmc-dev/rag-core/orchestrator"
	"github.com/llmc-dev/rag-core/workspace"
)

type fakeRefresher struct {
	calls      int32
	syncErr    error
	embedErr   error
	enrichErr  error
	blockUntil chan struct{} // if non-nil, IncrementalSync waits on this
}

func (f *fakeRefresher) IncrementalSync(ctx context.Context) (orchestrator.IndexStats, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.blockUntil != nil {
		<-f.blockUntil
	}
	return orchestrator.IndexStats{}, f.syncErr
}

func (f *fakeRefresher) EmbedBatch(ctx context.Context, limit int) (int, error) {
	return 0, f.embedErr
}

func (f *fakeRefresher) EnrichBatch(ctx context.Context, limit int) (orchestrator.EnrichReport, error) {
	return orchestrator.EnrichReport{}, f.enrichErr
}

func newTestDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := OpenServiceStore(filepath.Join(dir, "failures.db"))
	if err != nil {
		t.Fatalf("OpenServiceStore: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	cfg := DefaultConfig()
	cfg.RefreshInterval = 0 // everything is always stale in tests
	cfg.LockWaitTimeout = 200 * time.Millisecond
	cfg.ShutdownGrace = 300 * time.Millisecond
	return New(svc, cfg), dir
}

func newRepoLayout(t *testing.T, dir, name string) *workspace.Layout {
	t.Helper()
	root := filepath.Join(dir, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir repo root: %v", err)
	}
	layout, err := workspace.NewLayout(root)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return layout
}

func TestRunOnceRunsPipelineInOrderAndRecordsSuccess(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-a")
	ref := &fakeRefresher{}
	d.RegisterRepo("repo-a", layout.RepoRoot, layout, ref)

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if atomic.LoadInt32(&ref.calls) != 1 {
		t.Fatalf("expected IncrementalSync to run once, got %d", ref.calls)
	}

	state, err := d.svc.GetRepoState(context.Background(), "repo-a")
	if err != nil {
		t.Fatalf("GetRepoState: %v", err)
	}
	if state.LastStatus != "ok" {
		t.Fatalf("expected status ok, got %q", state.LastStatus)
	}
	if state.LastRefreshAt == nil {
		t.Fatalf("expected LastRefreshAt to be set")
	}
}

func TestRunOnceRecordsFailureAndIncrementsConsecutiveCount(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-b")
	ref := &fakeRefresher{syncErr: errors.New("boom")}
	d.RegisterRepo("repo-b", layout.RepoRoot, layout, ref)

	ctx := context.Background()
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := d.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce (second pass): %v", err)
	}

	state, err := d.svc.GetRepoState(ctx, "repo-b")
	if err != nil {
		t.Fatalf("GetRepoState: %v", err)
	}
	if state.LastStatus != "failed" {
		t.Fatalf("expected status failed, got %q", state.LastStatus)
	}
	if state.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", state.ConsecutiveFailures)
	}
	if state.LastError == "" {
		t.Fatalf("expected LastError to be recorded")
	}
}

func TestRunOnceSkipsRepoWhoseLockIsHeldElsewhere(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-c")
	ref := &fakeRefresher{}
	d.RegisterRepo("repo-c", layout.RepoRoot, layout, ref)

	holder := concurrency.NewRepoLock(layout.RepoLockPath())
	if err := holder.AcquireWithin(time.Second); err != nil {
		t.Fatalf("external lock acquire: %v", err)
	}
	defer holder.Release()

	if err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if atomic.LoadInt32(&ref.calls) != 0 {
		t.Fatalf("expected pipeline not to run while lock is held, got %d calls", ref.calls)
	}

	state, err := d.svc.GetRepoState(context.Background(), "repo-c")
	if err != nil {
		t.Fatalf("GetRepoState: %v", err)
	}
	if state.LastStatus != "skipped_locked" {
		t.Fatalf("expected status skipped_locked, got %q", state.LastStatus)
	}
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("expected skip not to count as a failure, got %d", state.ConsecutiveFailures)
	}
}

func TestStaleReposRanksNeverRefreshedFirst(t *testing.T) {
	d, dir := newTestDaemon(t)
	d.cfg.RefreshInterval = time.Hour

	layoutFresh := newRepoLayout(t, dir, "repo-fresh")
	layoutStale := newRepoLayout(t, dir, "repo-stale")
	layoutNever := newRepoLayout(t, dir, "repo-never")

	ctx := context.Background()
	now := time.Now().UTC()
	if err := d.svc.RecordSuccess(ctx, "repo-fresh", now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	if err := d.svc.RecordSuccess(ctx, "repo-stale", now.Add(-3*time.Hour)); err != nil {
		t.Fatalf("seed stale: %v", err)
	}

	d.RegisterRepo("repo-fresh", layoutFresh.RepoRoot, layoutFresh, &fakeRefresher{})
	d.RegisterRepo("repo-stale", layoutStale.RepoRoot, layoutStale, &fakeRefresher{})
	d.RegisterRepo("repo-never", layoutNever.RepoRoot, layoutNever, &fakeRefresher{})

	ranked, err := d.staleRepos(ctx, now)
	if err != nil {
		t.Fatalf("staleRepos: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected repo-fresh excluded, got %d candidates", len(ranked))
	}
	if ranked[0].id != "repo-never" {
		t.Fatalf("expected repo-never ranked first, got %s", ranked[0].id)
	}
	if ranked[1].id != "repo-stale" {
		t.Fatalf("expected repo-stale ranked second, got %s", ranked[1].id)
	}
}

func TestRunGracefulShutdownReturnsAfterGracePeriodEvenIfPassIsStuck(t *testing.T) {
	d, dir := newTestDaemon(t)
	d.cfg.Tick = 20 * time.Millisecond
	d.cfg.ShutdownGrace = 100 * time.Millisecond

	layout := newRepoLayout(t, dir, "repo-slow")
	block := make(chan struct{})
	ref := &fakeRefresher{blockUntil: block}
	d.RegisterRepo("repo-slow", layout.RepoRoot, layout, ref)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Let the first tick start and block inside IncrementalSync.
	time.Sleep(60 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("Run took too long to return after cancellation: %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return within the shutdown grace period")
	}

	close(block) // let the abandoned background pass unwind
}

func TestHealthAggregatesAcrossRepos(t *testing.T) {
	d, dir := newTestDaemon(t)
	layout := newRepoLayout(t, dir, "repo-health")
	if err := layout.WriteStatus(workspace.IndexStatus{
		Repo:             "repo-health",
		FilesTotal:       10,
		SpansTotal:       40,
		EmbeddingsTotal:  30,
		EnrichmentsTotal: 5,
		Pending:          25,
		Poisoned:         2,
	}); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	d.RegisterRepo("repo-health", layout.RepoRoot, layout, &fakeRefresher{})

	ctx := context.Background()
	if err := d.svc.RecordFailure(ctx, "repo-health", time.Now().UTC(), "transient"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	health, err := d.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.FilesTotal != 10 || health.SpansTotal != 40 || health.EmbeddingsTotal != 30 {
		t.Fatalf("unexpected totals: %+v", health)
	}
	if health.PendingTotal != 25 || health.PoisonedTotal != 2 {
		t.Fatalf("unexpected pending/poisoned: %+v", health)
	}
	if health.RecentFailures != 1 {
		t.Fatalf("expected 1 recent failure, got %d", health.RecentFailures)
	}
	if len(health.Repos) != 1 || health.Repos[0].RepoID != "repo-health" {
		t.Fatalf("expected repo-health in per-repo breakdown, got %+v", health.Repos)
	}
}
