//go:build cgo

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmc-dev/rag-core/backend"
	"github.com/llmc-dev/rag-core/embedder"
	"github.com/llmc-dev/rag-core/reliability"
	"github.com/llmc-dev/rag-core/router"
	"github.com/llmc-dev/rag-core/slicer"
	"github.com/llmc-dev/rag-core/store"
	"github.com/llmc-dev/rag-core/workspace"
)

type fakeEmbedder struct {
	modelID string
	calls   int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([]embedder.Vector, error) {
	f.calls++
	out := make([]embedder.Vector, len(texts))
	for i := range texts {
		out[i] = embedder.Vector{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return f.modelID }

type scriptedAdapter struct {
	resp backend.EnrichmentResponse
	err  error
}

func (a *scriptedAdapter) Call(ctx context.Context, req backend.EnrichmentRequest) (backend.EnrichmentResponse, error) {
	return a.resp, a.err
}

func newTestOrchestrator(t *testing.T, routeOK bool) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()

	past := time.Now().Add(-time.Hour)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
	if err := os.Chtimes(filepath.Join(root, "main.go"), past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("# Title\n\nSome docs.\n"), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
	if err := os.Chtimes(filepath.Join(root, "README.md"), past, past); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	layout, err := workspace.NewLayout(root)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	st, err := store.Open(layout.SpanStorePath(), store.DefaultConfig(4))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sl := slicer.New(slicer.DefaultConfig(), slicer.DefaultCodeStrategies(), slicer.MarkupStrategy{}, slicer.GenericStrategy{})

	emb := &fakeEmbedder{modelID: "test-model-4"}

	var adapterErr error
	if !routeOK {
		adapterErr = &backend.Error{Kind: backend.KindMalformed, Err: errors.New("boom")}
	}
	fake := &scriptedAdapter{
		resp: backend.EnrichmentResponse{Summary: "a summary", InputTokens: 10, OutputTokens: 5},
		err:  adapterErr,
	}
	wrapped := reliability.New(fake, reliability.Config{
		BackendID: "fake",
		Breaker:   reliability.BreakerConfig{FailureThreshold: 10, Cooldown: time.Second},
		Limiter:   reliability.LimiterConfig{RequestsPerMinute: 1000000, TokensPerMinute: 1000000000},
		Retry:     reliability.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Cost:      reliability.CostConfig{USDPerToken: 0.000001},
	})
	rt := router.New(router.Config{
		Chains: []router.Chain{
			{Name: "default", Members: []router.Member{{Name: "fake", Tier: 0, Role: "primary", Enabled: true, Backend: wrapped}}},
		},
		Routes:   map[string]string{"code": "default", "docs": "default", "generic": "default"},
		Fallback: "default",
	})

	cfg := DefaultConfig()
	cfg.EnrichCooldown = time.Minute
	o := New(root, layout, st, sl, emb, rt, cfg)
	return o, root
}

func TestFullIndexSlicesAndStoresFiles(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	stats, err := o.FullIndex(ctx)
	if err != nil {
		t.Fatalf("FullIndex: %v", err)
	}
	if stats.FilesIndexed != 2 {
		t.Fatalf("expected 2 files indexed, got %d (stats=%+v)", stats.FilesIndexed, stats)
	}
	if stats.SpansInserted == 0 {
		t.Fatal("expected at least one span inserted")
	}

	ist, err := o.store.GetIndexStatus(ctx)
	if err != nil {
		t.Fatalf("GetIndexStatus: %v", err)
	}
	if ist.LastFullIndexAt == nil {
		t.Fatal("expected LastFullIndexAt to be set")
	}
}

func TestIncrementalSyncSkipsUnchangedFiles(t *testing.T) {
	o, root := newTestOrchestrator(t, true)
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	stats, err := o.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if stats.FilesUnchanged != 2 {
		t.Fatalf("expected 2 unchanged files, got %+v", stats)
	}

	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc main() {\n\tprintln(\"changed\")\n}\n"), 0o644); err != nil {
		t.Fatalf("rewriting fixture: %v", err)
	}
	// Ensure a distinguishable mtime from the first write.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(root, "main.go"), future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	stats, err = o.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if stats.FilesIndexed != 1 {
		t.Fatalf("expected 1 changed file re-indexed, got %+v", stats)
	}
}

func TestIncrementalSyncDeletesVanishedFiles(t *testing.T) {
	o, root := newTestOrchestrator(t, true)
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	if err := os.Remove(filepath.Join(root, "README.md")); err != nil {
		t.Fatalf("removing fixture: %v", err)
	}

	stats, err := o.IncrementalSync(ctx)
	if err != nil {
		t.Fatalf("IncrementalSync: %v", err)
	}
	if stats.FilesDeleted != 1 {
		t.Fatalf("expected 1 file deleted, got %+v", stats)
	}

	if _, err := o.store.GetFileByPath(ctx, "README.md"); !errors.Is(err, store.ErrUnknownFile) {
		t.Fatalf("expected ErrUnknownFile, got %v", err)
	}
}

func TestEmbedBatchEmbedsPendingSpans(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	n, err := o.EmbedBatch(ctx, 0)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if n == 0 {
		t.Fatal("expected at least one span embedded")
	}

	n2, err := o.EmbedBatch(ctx, 0)
	if err != nil {
		t.Fatalf("EmbedBatch (second call): %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected no spans left to embed, got %d", n2)
	}
}

func TestEnrichBatchWritesEnrichmentOnSuccess(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	report, err := o.EnrichBatch(ctx, 0)
	if err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}
	if report.Enriched == 0 {
		t.Fatalf("expected at least one enrichment, got %+v", report)
	}
	if report.Failed != 0 {
		t.Fatalf("expected no failures, got %+v", report)
	}
}

func TestEnrichBatchRecordsFailureAndPoisonsAfterThreshold(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)
	o.cfg.PoisonThreshold = 1
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	report, err := o.EnrichBatch(ctx, 0)
	if err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}
	if report.Failed == 0 {
		t.Fatalf("expected failures, got %+v", report)
	}
	if report.Poisoned == 0 {
		t.Fatalf("expected at least one span poisoned, got %+v", report)
	}
}

func TestEnrichBatchDryRunDoesNotPersist(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	o.cfg.DryRun = true
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	report, err := o.EnrichBatch(ctx, 0)
	if err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}
	if report.Enriched == 0 {
		t.Fatalf("expected dry-run to still report would-be enrichments, got %+v", report)
	}

	// Nothing should actually be persisted: pending count unchanged.
	pending, err := o.store.PendingEnrichments(ctx, 100, 0, o.cfg.PoisonThreshold)
	if err != nil {
		t.Fatalf("PendingEnrichments: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("expected spans to remain pending after a dry run")
	}
}

func TestResetPoisonedClearsFailures(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)
	o.cfg.PoisonThreshold = 1
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}
	if _, err := o.EnrichBatch(ctx, 0); err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}

	poisoned, err := o.store.PoisonedSpans(ctx, 1)
	if err != nil {
		t.Fatalf("PoisonedSpans: %v", err)
	}
	if len(poisoned) == 0 {
		t.Fatal("expected at least one poisoned span")
	}

	if err := o.ResetPoisoned(ctx, poisoned[0]); err != nil {
		t.Fatalf("ResetPoisoned: %v", err)
	}

	stillPoisoned, err := o.store.PoisonedSpans(ctx, 1)
	if err != nil {
		t.Fatalf("PoisonedSpans: %v", err)
	}
	for _, h := range stillPoisoned {
		if h == poisoned[0] {
			t.Fatal("expected span to no longer be poisoned after reset")
		}
	}
}

func TestConsistencyScanDetectsDriftWithoutMutating(t *testing.T) {
	o, root := newTestOrchestrator(t, true)
	ctx := context.Background()

	if _, err := o.FullIndex(ctx); err != nil {
		t.Fatalf("FullIndex: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "extra.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	report, err := o.ConsistencyScan(ctx)
	if err != nil {
		t.Fatalf("ConsistencyScan: %v", err)
	}
	found := false
	for _, p := range report.FilesOnDiskNotInStore {
		if p == "extra.go" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected extra.go to be reported as on-disk-not-in-store, got %+v", report)
	}

	// A scan must not have touched the store.
	if _, err := o.store.GetFileByPath(ctx, "extra.go"); !errors.Is(err, store.ErrUnknownFile) {
		t.Fatalf("ConsistencyScan must not write to the store, got err=%v", err)
	}
}
