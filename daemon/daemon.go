// Package daemon implements the multi-repo refresh loop: rank registered
// repos by staleness, acquire each one's write lock with a bounded wait,
// and run incremental_sync -> embed_batch -> enrich_batch in order,
// per spec component C10.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/llmc-dev/rag-core/concurrency"
	"github.com/llmc-dev/rag-core/orchestrator"
	"github.com/llmc-dev/rag-core/workspace"
)

// Refresher is the subset of *orchestrator.Orchestrator the daemon drives.
// Defined as an interface so the refresh loop can be tested without a real
// SQLite-backed store.
type Refresher interface {
	IncrementalSync(ctx context.Context) (orchestrator.IndexStats, error)
	EmbedBatch(ctx context.Context, limit int) (int, error)
	EnrichBatch(ctx context.Context, limit int) (orchestrator.EnrichReport, error)
}

// Config controls the refresh loop's pacing and batch sizes.
type Config struct {
	// RefreshInterval is how stale a repo must be before it is eligible
	// for the next pass.
	RefreshInterval time.Duration
	// Tick is how often the loop wakes to check for eligible repos.
	Tick time.Duration
	// LockWaitTimeout bounds how long the daemon waits for a busy repo's
	// write lock before skipping it for this pass.
	LockWaitTimeout time.Duration
	// ShutdownGrace bounds how long Run waits for an in-flight refresh
	// pass to reach a safe point after the context is canceled, before
	// returning and abandoning it.
	ShutdownGrace   time.Duration
	EmbedBatchSize  int
	EnrichBatchSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 5 * time.Minute,
		Tick:            30 * time.Second,
		LockWaitTimeout: 10 * time.Second,
		ShutdownGrace:   20 * time.Second,
		EmbedBatchSize:  200,
		EnrichBatchSize: 50,
	}
}

type registeredRepo struct {
	id        string
	root      string
	refresher Refresher
	layout    *workspace.Layout
}

// Daemon supervises refresh passes across every repo registered with it.
type Daemon struct {
	cfg   Config
	svc   *ServiceStore
	mu    sync.Mutex
	repos map[string]*registeredRepo
}

// New creates a Daemon backed by svc for service-state and failure
// tracking.
func New(svc *ServiceStore, cfg Config) *Daemon {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.LockWaitTimeout <= 0 {
		cfg.LockWaitTimeout = 10 * time.Second
	}
	return &Daemon{cfg: cfg, svc: svc, repos: map[string]*registeredRepo{}}
}

// RegisterRepo adds (or replaces) a repo the daemon supervises.
func (d *Daemon) RegisterRepo(id, root string, layout *workspace.Layout, refresher Refresher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.repos[id] = &registeredRepo{
		id:        id,
		root:      root,
		refresher: refresher,
		layout:    layout,
	}
}

// UnregisterRepo removes a repo from supervision. It does not touch the
// repo's own workspace or store.
func (d *Daemon) UnregisterRepo(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.repos, id)
}

func (d *Daemon) snapshot() []*registeredRepo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*registeredRepo, 0, len(d.repos))
	for _, r := range d.repos {
		out = append(out, r)
	}
	return out
}

// staleRepos ranks registered repos by staleness (oldest last-refresh
// first) and returns those at or past cfg.RefreshInterval. A repo never
// refreshed is always the most stale.
func (d *Daemon) staleRepos(ctx context.Context, now time.Time) ([]*registeredRepo, error) {
	repos := d.snapshot()
	type ranked struct {
		repo      *registeredRepo
		staleness time.Duration
	}
	var candidates []ranked
	for _, r := range repos {
		state, err := d.svc.GetRepoState(ctx, r.id)
		if err != nil {
			return nil, fmt.Errorf("daemon: reading state for %s: %w", r.id, err)
		}
		var staleness time.Duration
		if state.LastRefreshAt == nil {
			staleness = time.Duration(1<<62 - 1) // never refreshed: always most stale
		} else {
			staleness = now.Sub(*state.LastRefreshAt)
		}
		if staleness >= d.cfg.RefreshInterval {
			candidates = append(candidates, ranked{repo: r, staleness: staleness})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].staleness > candidates[j].staleness })

	out := make([]*registeredRepo, len(candidates))
	for i, c := range candidates {
		out[i] = c.repo
	}
	return out, nil
}

// RunOnce performs a single pass: selects every repo past its refresh
// interval, acquires each one's lock with a bounded wait (skipping on
// timeout), and runs incremental_sync -> embed_batch -> enrich_batch.
func (d *Daemon) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := d.staleRepos(ctx, now)
	if err != nil {
		return err
	}

	for _, r := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.refreshOne(ctx, r, now)
	}
	return nil
}

// refreshOne probes the repo's write lock with a bounded wait before
// running its pipeline. The probe is acquired and released immediately
// rather than held for the whole pipeline: the orchestrator already takes
// its own instance of this same lock around each individual operation
// (full_index/incremental_sync/embed_batch/enrich_batch), and flock locks
// are scoped to the open file description that acquired them, not to the
// owning process — a second, separately-opened instance held by the
// daemon across all three calls would contend with the orchestrator's own
// acquisition and deadlock. The probe still delivers the documented
// skip-on-timeout behavior (a repo actively locked by another process or
// daemon is skipped rather than blocking this pass); the narrow window
// between probe and the orchestrator's own first lock acquisition is
// covered by the orchestrator's per-operation locking taking over from
// there.
func (d *Daemon) refreshOne(ctx context.Context, r *registeredRepo, now time.Time) {
	probe := concurrency.NewRepoLock(r.layout.RepoLockPath())
	if err := probe.AcquireWithin(d.cfg.LockWaitTimeout); err != nil {
		slog.Info("daemon: skipping repo, lock busy", "repo", r.id, "error", err)
		if recErr := d.svc.RecordSkipped(ctx, r.id, now); recErr != nil {
			slog.Warn("daemon: failed to record skipped pass", "repo", r.id, "error", recErr)
		}
		return
	}
	probe.Release()

	if err := d.runPipeline(ctx, r); err != nil {
		slog.Warn("daemon: refresh pass failed", "repo", r.id, "error", err)
		if recErr := d.svc.RecordFailure(ctx, r.id, now, err.Error()); recErr != nil {
			slog.Warn("daemon: failed to record failure", "repo", r.id, "error", recErr)
		}
		return
	}

	if err := d.svc.RecordSuccess(ctx, r.id, now); err != nil {
		slog.Warn("daemon: failed to record success", "repo", r.id, "error", err)
	}
}

// WakeRepo runs a single refresh pass for one repo immediately, bypassing
// the staleness check RunOnce's scheduled passes use. An attached Watcher
// calls this from its debounced fast path when a filesystem event arrives
// under that repo's root.
func (d *Daemon) WakeRepo(ctx context.Context, id string) {
	d.mu.Lock()
	r, ok := d.repos[id]
	d.mu.Unlock()
	if !ok {
		return
	}
	d.refreshOne(ctx, r, time.Now().UTC())
}

func (d *Daemon) runPipeline(ctx context.Context, r *registeredRepo) error {
	if _, err := r.refresher.IncrementalSync(ctx); err != nil {
		return fmt.Errorf("incremental_sync: %w", err)
	}
	if _, err := r.refresher.EmbedBatch(ctx, d.cfg.EmbedBatchSize); err != nil {
		return fmt.Errorf("embed_batch: %w", err)
	}
	if _, err := r.refresher.EnrichBatch(ctx, d.cfg.EnrichBatchSize); err != nil {
		return fmt.Errorf("enrich_batch: %w", err)
	}
	return nil
}

// Run ticks RunOnce on cfg.Tick until ctx is canceled, then waits up to
// cfg.ShutdownGrace for the current pass to reach a safe point before
// returning.
//
// The ticking itself happens on a background goroutine rather than inline
// in this function's own select loop: a pass in progress when ctx is
// canceled may be blocked deep inside a single orchestrator call (a slow
// backend, a stuck I/O call) that does not return promptly even though its
// context has been canceled. Waiting on that goroutine with a bounded
// select, instead of blocking on it directly, is what lets Run honor the
// grace period and return on schedule instead of hanging until the pass
// eventually unwinds on its own — at the cost of a goroutine left running
// in the background for however long that pass actually takes, which a
// well-behaved orchestrator call (one that checks ctx.Err() the way
// incremental_sync/embed_batch/enrich_batch already do between repos and
// between backend calls) keeps short.
func (d *Daemon) Run(ctx context.Context) error {
	passDone := make(chan struct{})
	go func() {
		defer close(passDone)
		ticker := time.NewTicker(d.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("daemon: refresh pass error", "error", err)
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}()

	<-ctx.Done()
	select {
	case <-passDone:
		return nil
	case <-time.After(d.cfg.ShutdownGrace):
		slog.Warn("daemon: shutdown grace period elapsed with a refresh pass still running, returning without waiting further")
		return nil
	}
}
