// Package goreason wires the per-repo indexing/retrieval pipeline (slicer,
// span store, embedder, ranker, orchestrator) and the multi-repo refresh
// daemon into a single entry point for a host process (CLI, HTTP service)
// to drive.
package goreason

import (
	"context"
	"fmt"
	"sync"

	"github.com/llmc-dev/rag-core/daemon"
	"github.com/llmc-dev/rag-core/embedder"
	"github.com/llmc-dev/rag-core/orchestrator"
	"github.com/llmc-dev/rag-core/ranker"
	"github.com/llmc-dev/rag-core/router"
	"github.com/llmc-dev/rag-core/slicer"
	"github.com/llmc-dev/rag-core/store"
	"github.com/llmc-dev/rag-core/workspace"
)

// Repo bundles one registered repo's open store, orchestrator, and ranker.
type Repo struct {
	ID     string
	Layout *workspace.Layout

	store  *store.Store
	orch   *orchestrator.Orchestrator
	ranker *ranker.Ranker
}

// FullIndex re-slices every discovered file.
func (r *Repo) FullIndex(ctx context.Context) (orchestrator.IndexStats, error) {
	return r.orch.FullIndex(ctx)
}

// IncrementalSync re-slices only files whose content hash changed; a file
// whose mtime matches the stored row is skipped without being read.
func (r *Repo) IncrementalSync(ctx context.Context) (orchestrator.IndexStats, error) {
	return r.orch.IncrementalSync(ctx)
}

// EmbedBatch embeds up to limit pending spans.
func (r *Repo) EmbedBatch(ctx context.Context, limit int) (int, error) {
	return r.orch.EmbedBatch(ctx, limit)
}

// EnrichBatch routes up to limit pending spans through the enrichment chain.
func (r *Repo) EnrichBatch(ctx context.Context, limit int) (orchestrator.EnrichReport, error) {
	return r.orch.EnrichBatch(ctx, limit)
}

// ConsistencyScan reports on-disk/store drift without mutating anything.
func (r *Repo) ConsistencyScan(ctx context.Context) (orchestrator.ConsistencyReport, error) {
	return r.orch.ConsistencyScan(ctx)
}

// ResetPoisoned clears a span's failure count, making it eligible for
// enrichment again.
func (r *Repo) ResetPoisoned(ctx context.Context, spanHash string) error {
	return r.orch.ResetPoisoned(ctx, spanHash)
}

// Query ranks spans against a natural-language query, greedily selecting
// results until their combined content would exceed budget characters.
func (r *Repo) Query(ctx context.Context, query string, budget int) ([]ranker.Result, error) {
	return r.ranker.Rank(ctx, query, budget)
}

// Status returns the repo's on-disk freshness record.
func (r *Repo) Status() (workspace.IndexStatus, error) {
	return r.Layout.ReadStatus()
}

// Close releases the repo's store handle. It does not unregister the repo
// from a running daemon or the global registry.
func (r *Repo) Close() error {
	return r.store.Close()
}

// Engine is the top-level handle a host process holds: it builds the
// shared router and embedder once from Config, then opens and supervises
// any number of repos against them.
type Engine struct {
	cfg      Config
	router   *router.Router
	embedder *embedder.Embedder
	svc      *daemon.ServiceStore
	daemon   *daemon.Daemon
	watcher  *daemon.Watcher // nil unless [daemon].watch_enabled

	mu    sync.Mutex
	repos map[string]*Repo
}

// New builds an Engine from cfg: the enrichment router, the embedder, the
// global persistent failure store, and the refresh daemon (not yet
// running — call Run to start it).
func New(cfg Config) (*Engine, error) {
	rt, err := cfg.BuildRouter()
	if err != nil {
		return nil, fmt.Errorf("goreason: building router: %w", err)
	}
	emb, err := cfg.BuildEmbedder()
	if err != nil {
		return nil, fmt.Errorf("goreason: building embedder: %w", err)
	}

	failurePath, err := workspace.FailureStorePath()
	if err != nil {
		return nil, fmt.Errorf("goreason: resolving failure store path: %w", err)
	}
	svc, err := daemon.OpenServiceStore(failurePath)
	if err != nil {
		return nil, fmt.Errorf("goreason: opening service store: %w", err)
	}

	dcfg := daemon.DefaultConfig()
	dcfg.RefreshInterval = cfg.refreshInterval()
	d := daemon.New(svc, dcfg)

	var watcher *daemon.Watcher
	if cfg.Daemon.WatchEnabled {
		watcher, err = daemon.NewWatcher(d)
		if err != nil {
			return nil, fmt.Errorf("goreason: creating watcher: %w", err)
		}
	}

	return &Engine{
		cfg:      cfg,
		router:   rt,
		embedder: emb,
		svc:      svc,
		daemon:   d,
		watcher:  watcher,
		repos:    map[string]*Repo{},
	}, nil
}

// queryEmbedder adapts *embedder.Embedder (batch-oriented) to the ranker's
// single-query Embedder interface.
type queryEmbedder struct {
	emb *embedder.Embedder
}

func (q queryEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := q.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("goreason: embedder returned no vector for query")
	}
	return []float32(vecs[0]), nil
}

func defaultSlicer(cfg Config) *slicer.Slicer {
	scfg := slicer.DefaultConfig()
	scfg.EnforceCleanText = cfg.Rag.EnforceCleanText
	return slicer.New(scfg, slicer.DefaultCodeStrategies(), slicer.MarkupStrategy{}, slicer.GenericStrategy{})
}

// OpenRepo canonicalizes root, opens (or creates) its workspace and span
// store, and registers it with the Engine's router/embedder/daemon. domain
// is a free-form label persisted in the global registry (e.g. "backend",
// "docs-site").
func (e *Engine) OpenRepo(ctx context.Context, id, root, domain string) (*Repo, error) {
	canonRoot, err := workspace.CanonicalizeUnder(root, ".")
	if err != nil {
		return nil, fmt.Errorf("goreason: validating repo root: %w", err)
	}

	layout, err := workspace.NewLayout(canonRoot)
	if err != nil {
		return nil, fmt.Errorf("goreason: building workspace layout: %w", err)
	}

	scfg := e.cfg.storeConfig()
	st, err := store.Open(layout.SpanStorePath(), scfg)
	if err != nil {
		return nil, fmt.Errorf("goreason: opening span store: %w", err)
	}

	ocfg := orchestrator.DefaultConfig()
	ocfg.PoisonThreshold = e.cfg.poisonThreshold()
	ocfg.IgnorePatterns = e.cfg.Rag.IgnorePatterns
	ocfg.WeightTable = scfg.WeightTable
	ocfg.RequestTimeout = e.cfg.requestTimeout()

	orch := orchestrator.New(canonRoot, layout, st, defaultSlicer(e.cfg), e.embedder, e.router, ocfg)

	rk := ranker.New(st, queryEmbedder{emb: e.embedder}, ranker.DefaultConfig())

	repo := &Repo{ID: id, Layout: layout, store: st, orch: orch, ranker: rk}

	e.mu.Lock()
	e.repos[id] = repo
	e.mu.Unlock()

	e.daemon.RegisterRepo(id, canonRoot, layout, orch)
	if e.watcher != nil {
		if err := e.watcher.WatchRepo(id, canonRoot); err != nil {
			return repo, fmt.Errorf("goreason: watching repo: %w", err)
		}
	}

	reg, err := workspace.LoadRegistry()
	if err != nil {
		return repo, fmt.Errorf("goreason: loading registry: %w", err)
	}
	reg.Register(id, canonRoot, domain)
	if err := reg.Save(); err != nil {
		return repo, fmt.Errorf("goreason: saving registry: %w", err)
	}

	return repo, nil
}

// Repo looks up an already-open repo by id.
func (e *Engine) Repo(id string) (*Repo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.repos[id]
	return r, ok
}

// CloseRepo closes and unregisters a repo from both the daemon and the
// in-memory registry (the global YAML registry is left untouched; call
// Unregister for that).
func (e *Engine) CloseRepo(id string) error {
	e.mu.Lock()
	r, ok := e.repos[id]
	delete(e.repos, id)
	e.mu.Unlock()

	e.daemon.UnregisterRepo(id)
	if e.watcher != nil {
		e.watcher.UnwatchRepo(id)
	}
	if !ok {
		return nil
	}
	return r.Close()
}

// Unregister removes a repo from the global YAML registry.
func (e *Engine) Unregister(id string) error {
	reg, err := workspace.LoadRegistry()
	if err != nil {
		return fmt.Errorf("goreason: loading registry: %w", err)
	}
	reg.Unregister(id)
	return reg.Save()
}

// Run drives the refresh daemon until ctx is canceled. If the fast-path
// watcher is enabled it runs alongside, on its own goroutine, and is torn
// down automatically when ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if e.watcher != nil {
		go e.watcher.Run(ctx)
	}
	return e.daemon.Run(ctx)
}

// Health returns the daemon's fleet-wide health snapshot.
func (e *Engine) Health(ctx context.Context) (daemon.Health, error) {
	return e.daemon.Health(ctx)
}

// Close shuts down every open repo's store and the global service store.
func (e *Engine) Close() error {
	e.mu.Lock()
	repos := make([]*Repo, 0, len(e.repos))
	for _, r := range e.repos {
		repos = append(repos, r)
	}
	e.repos = map[string]*Repo{}
	e.mu.Unlock()

	var firstErr error
	for _, r := range repos {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.svc.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
