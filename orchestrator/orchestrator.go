// Package orchestrator drives a single repo's index through its state
// machine (discovering -> slicing -> storing -> embedding -> enriching ->
// idle), coordinating the slicer, span store, embedder, and router behind
// the per-repo write lock, per spec component C9.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmc-dev/rag-core/concurrency"
	"github.com/llmc-dev/rag-core/embedder"
	"github.com/llmc-dev/rag-core/router"
	"github.com/llmc-dev/rag-core/slicer"
	"github.com/llmc-dev/rag-core/store"
	"github.com/llmc-dev/rag-core/workspace"
)

// State names written to the store's index_status row and surfaced to
// operators through the status file.
const (
	StateIdle        = "idle"
	StateDiscovering = "discovering"
	StateSlicing     = "slicing"
	StateStoring     = "storing"
	StateEmbedding   = "embedding"
	StateEnriching   = "enriching"
)

// Embedder is the subset of embedder.Embedder the orchestrator depends on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]embedder.Vector, error)
	ModelID() string
}

// Config controls batching, concurrency, and poisoning thresholds for one
// repo's orchestrator.
type Config struct {
	// PoisonThreshold is the consecutive-failure count at which a span is
	// excluded from further enrichment attempts until an operator resets it.
	PoisonThreshold int
	// EnrichCooldown is how long a freshly (re)sliced span must sit before
	// it becomes eligible for enrichment, giving a burst of edits time to
	// settle before spending backend budget on them.
	EnrichCooldown time.Duration
	// EnrichBatchSize and EmbedBatchSize bound one enrich_batch/embed_batch
	// call's work.
	EnrichBatchSize int
	EmbedBatchSize  int
	// Concurrency is stored on the Orchestrator (values <= 0 become 1), but
	// no operation reads it: full_index, incremental_sync, embed_batch and
	// enrich_batch process files and spans one at a time.
	Concurrency int
	// IgnorePatterns are additional doublestar glob patterns (beyond
	// .gitignore) excluded from discovery, e.g. "**/*.generated.go".
	IgnorePatterns []string
	// WeightTable maps a path classification ("code", "docs") to its
	// sampling weight; lower numbers are sampled more eagerly.
	WeightTable map[string]int
	// DryRun, when set, runs enrich_batch's classification and routing
	// decisions but never calls WriteEnrichment or RecordFailure — used to
	// preview what a batch would do against live backends without
	// spending write budget or poisoning counters.
	DryRun bool
	// RequestTimeout bounds a single backend call issued during enrichment.
	RequestTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PoisonThreshold: 5,
		EnrichCooldown:  2 * time.Minute,
		EnrichBatchSize: 50,
		EmbedBatchSize:  200,
		Concurrency:     4,
		WeightTable:     map[string]int{"code": 1, "docs": 7},
		RequestTimeout:  60 * time.Second,
	}
}

// Orchestrator drives one repo's full_index, incremental_sync,
// embed_batch, and enrich_batch operations.
type Orchestrator struct {
	root     string
	layout   *workspace.Layout
	store    *store.Store
	slicer   *slicer.Slicer
	embedder Embedder
	router   *router.Router
	lock     *concurrency.RepoLock
	pool     int
	cfg      Config
}

// New wires an Orchestrator for one repo. root is the canonical repo root
// (already validated by CanonicalizeUnder).
func New(root string, layout *workspace.Layout, st *store.Store, sl *slicer.Slicer, emb Embedder, rt *router.Router, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{
		root:     root,
		layout:   layout,
		store:    st,
		slicer:   sl,
		embedder: emb,
		router:   rt,
		lock:     concurrency.NewRepoLock(layout.RepoLockPath()),
		pool:     cfg.Concurrency,
		cfg:      cfg,
	}
}

func (o *Orchestrator) setState(ctx context.Context, state string) {
	if err := o.store.SetState(ctx, state); err != nil {
		slog.Warn("orchestrator: failed to record state transition", "state", state, "error", err)
	}
}

// refreshStatus recomputes the store's running counts and mirrors them
// into the workspace's JSON status file so a reader never needs to open
// the SQLite database just to check freshness.
func (o *Orchestrator) refreshStatus(ctx context.Context) error {
	if err := o.store.RefreshCounts(ctx, o.cfg.PoisonThreshold); err != nil {
		return fmt.Errorf("orchestrator: refreshing counts: %w", err)
	}
	ist, err := o.store.GetIndexStatus(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reading index status: %w", err)
	}
	totals, err := o.store.GetTotals(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: reading totals: %w", err)
	}
	status := workspace.IndexStatus{
		Repo:             o.root,
		FilesTotal:       totals.Files,
		SpansTotal:       totals.Spans,
		EmbeddingsTotal:  totals.Embeddings,
		EnrichmentsTotal: totals.Enrichments,
		Pending:          ist.PendingCount,
		Poisoned:         ist.PoisonedCount,
		StaleFiles:       ist.StaleFileCount,
		ModelID:          o.embedder.ModelID(),
		SchemaVersion:    1,
	}
	if ist.LastFullIndexAt != nil {
		status.LastFullIndexUTC = ist.LastFullIndexAt.UTC()
	}
	if ist.LastIncrementalSyncAt != nil {
		status.LastIncrementalUTC = ist.LastIncrementalSyncAt.UTC()
	}
	return o.layout.WriteStatus(status)
}

// ResetPoisoned clears a span's failure counters so it becomes eligible
// for enrichment again, per the operator-facing reset operation spec §4.9
// requires alongside automatic poisoning.
func (o *Orchestrator) ResetPoisoned(ctx context.Context, spanHash string) error {
	return o.store.ResetFailures(ctx, spanHash)
}
