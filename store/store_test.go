//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath, DefaultConfig(4))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := Open(dbPath, DefaultConfig(4))
	if err != nil {
		t.Fatalf("opening store in nested dir: %v", err)
	}
	s.Close()
}

func TestCheckIntegrityPassesOnFreshStore(t *testing.T) {
	s := newTestStore(t)
	if err := s.CheckIntegrity(context.Background()); err != nil {
		t.Fatalf("CheckIntegrity on fresh store: %v", err)
	}
}

func TestUpsertFileThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertFile(ctx, "/repo/a.go", 100, "hash1")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	f, err := s.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.Path != "/repo/a.go" || f.ContentHash != "hash1" {
		t.Fatalf("unexpected file: %+v", f)
	}

	id2, err := s.UpsertFile(ctx, "/repo/a.go", 200, "hash2")
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected same file id on path conflict, got %d vs %d", id2, id)
	}
	f2, _ := s.GetFile(ctx, id)
	if f2.ContentHash != "hash2" {
		t.Fatalf("expected updated content hash, got %q", f2.ContentHash)
	}
}

func TestGetFileUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetFile(context.Background(), 999); err != ErrUnknownFile {
		t.Fatalf("expected ErrUnknownFile, got %v", err)
	}
}

func TestReplaceSpansInsertsAndPreserves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", 100, "h1")

	diff, err := s.ReplaceSpans(ctx, fileID, []SpanInput{
		{Hash: "span-a", Content: "func A(){}", SliceType: "function", PathWeight: 1},
		{Hash: "span-b", Content: "func B(){}", SliceType: "function", PathWeight: 1},
	})
	if err != nil {
		t.Fatalf("replace spans: %v", err)
	}
	if diff.Inserted != 2 || diff.Preserved != 0 || diff.Removed != 0 {
		t.Fatalf("unexpected diff: %+v", diff)
	}

	if err := s.WriteEmbedding(ctx, "span-a", "model-1", []float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("write embedding: %v", err)
	}

	// Replace again: span-a unchanged (preserved, keeps embedding),
	// span-b vanished (removed), span-c is new.
	diff2, err := s.ReplaceSpans(ctx, fileID, []SpanInput{
		{Hash: "span-a", Content: "func A(){}", SliceType: "function", PathWeight: 1},
		{Hash: "span-c", Content: "func C(){}", SliceType: "function", PathWeight: 1},
	})
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if diff2.Inserted != 1 || diff2.Preserved != 1 || diff2.Removed != 1 {
		t.Fatalf("unexpected diff2: %+v", diff2)
	}

	row, err := s.GetSpanByHash(ctx, "span-a")
	if err != nil {
		t.Fatalf("get preserved span: %v", err)
	}
	if row.ModelID != "model-1" {
		t.Fatalf("expected preserved span to keep its embedding's model id, got %q", row.ModelID)
	}

	if _, err := s.GetSpanByHash(ctx, "span-b"); err != ErrUnknownSpan {
		t.Fatalf("expected removed span to be gone, got %v", err)
	}
}

func TestWriteEmbeddingFailsForUnknownSpan(t *testing.T) {
	s := newTestStore(t)
	err := s.WriteEmbedding(context.Background(), "does-not-exist", "model-1", []float32{0, 0, 0, 0})
	if err != ErrUnknownSpan {
		t.Fatalf("expected ErrUnknownSpan, got %v", err)
	}
}

func TestVectorSearchReturnsNearestSpan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", 100, "h1")
	s.ReplaceSpans(ctx, fileID, []SpanInput{
		{Hash: "near", Content: "close vector", PathWeight: 1},
		{Hash: "far", Content: "distant vector", PathWeight: 1},
	})
	s.WriteEmbedding(ctx, "near", "m1", []float32{1, 0, 0, 0})
	s.WriteEmbedding(ctx, "far", "m1", []float32{0, 0, 0, 1})

	results, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) == 0 || results[0].SpanID != "near" {
		t.Fatalf("expected nearest span first, got %+v", results)
	}
}

func TestLexicalSearchFindsMatchingContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", 100, "h1")
	s.ReplaceSpans(ctx, fileID, []SpanInput{
		{Hash: "one", Content: "parses configuration files", PathWeight: 1},
		{Hash: "two", Content: "renders the dashboard", PathWeight: 1},
	})

	results, err := s.LexicalSearch(ctx, "configuration", 10)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(results) != 1 || results[0].SpanID != "one" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestWriteEnrichmentReplacesCurrentRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", 100, "h1")
	s.ReplaceSpans(ctx, fileID, []SpanInput{{Hash: "span-a", Content: "x", PathWeight: 1}})

	body := EnrichmentBody{Summary: "does a thing", Tags: []string{"util"}}
	if err := s.WriteEnrichment(ctx, "span-a", body, "code", 0, "local-7b", time.Now()); err != nil {
		t.Fatalf("write enrichment: %v", err)
	}

	e, err := s.GetEnrichment(ctx, "span-a")
	if err != nil || e == nil {
		t.Fatalf("get enrichment: %v", err)
	}
	if e.Body.Summary != "does a thing" {
		t.Fatalf("unexpected enrichment: %+v", e)
	}

	body2 := EnrichmentBody{Summary: "updated summary"}
	if err := s.WriteEnrichment(ctx, "span-a", body2, "code", 1, "remote-mid", time.Now()); err != nil {
		t.Fatalf("re-write enrichment: %v", err)
	}
	e2, _ := s.GetEnrichment(ctx, "span-a")
	if e2.Body.Summary != "updated summary" {
		t.Fatalf("expected single current row to be replaced, got %+v", e2)
	}
}

func TestRecordFailureIncrementsAndResetClears(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.RecordFailure(ctx, "span-a", "code", "timeout")
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
	count, _ = s.RecordFailure(ctx, "span-a", "code", "timeout")
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}

	poisoned, err := s.PoisonedSpans(ctx, 2)
	if err != nil {
		t.Fatalf("poisoned spans: %v", err)
	}
	if len(poisoned) != 1 || poisoned[0] != "span-a" {
		t.Fatalf("expected span-a poisoned, got %v", poisoned)
	}

	if err := s.ResetFailures(ctx, "span-a"); err != nil {
		t.Fatalf("reset failures: %v", err)
	}
	poisoned, _ = s.PoisonedSpans(ctx, 2)
	if len(poisoned) != 0 {
		t.Fatalf("expected no poisoned spans after reset, got %v", poisoned)
	}
}

func TestWriteRoutingDecisionIsAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := RoutingDecisionRow{SpanHash: "span-a", ChainName: "code", BackendName: "local-7b", Attempt: 1, Status: "success"}
	if err := s.WriteRoutingDecision(ctx, d); err != nil {
		t.Fatalf("write decision: %v", err)
	}
	d.Attempt = 2
	d.Status = "success"
	d.BackendName = "remote-small"
	if err := s.WriteRoutingDecision(ctx, d); err != nil {
		t.Fatalf("write second decision: %v", err)
	}

	decisions, err := s.RoutingDecisionsForSpan(ctx, "span-a")
	if err != nil {
		t.Fatalf("read decisions: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
}

func TestPendingEnrichmentsSkipsEnrichedAndPoisoned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).Unix()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", past, "h1")
	s.ReplaceSpans(ctx, fileID, []SpanInput{
		{Hash: "enriched", Content: "x", PathWeight: 1},
		{Hash: "pending", Content: "y", PathWeight: 1},
		{Hash: "poisoned", Content: "z", PathWeight: 1},
	})
	s.WriteEnrichment(ctx, "enriched", EnrichmentBody{Summary: "s"}, "code", 0, "m", time.Now())
	s.RecordFailure(ctx, "poisoned", "code", "auth_denied")
	s.RecordFailure(ctx, "poisoned", "code", "auth_denied")
	s.RecordFailure(ctx, "poisoned", "code", "auth_denied")

	items, err := s.PendingEnrichments(ctx, 10, time.Minute, 3)
	if err != nil {
		t.Fatalf("pending enrichments: %v", err)
	}
	if len(items) != 1 || items[0].SpanHash != "pending" {
		t.Fatalf("expected only the pending span, got %+v", items)
	}
}

func TestPendingEnrichmentsMixesWeightBuckets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour).Unix()

	mdFile, _ := s.UpsertFile(ctx, "/repo/docs/a.md", past, "h1")
	var mdSpans []SpanInput
	for i := 0; i < 30; i++ {
		mdSpans = append(mdSpans, SpanInput{Hash: "md-" + itoa(i), Content: "doc text", PathWeight: 7})
	}
	s.ReplaceSpans(ctx, mdFile, mdSpans)

	pyFile, _ := s.UpsertFile(ctx, "/repo/src/a.py", past, "h2")
	s.ReplaceSpans(ctx, pyFile, []SpanInput{
		{Hash: "py-0", Content: "def a(): pass", PathWeight: 1},
		{Hash: "py-1", Content: "def b(): pass", PathWeight: 1},
		{Hash: "py-2", Content: "def c(): pass", PathWeight: 1},
	})

	items, err := s.PendingEnrichments(ctx, 10, time.Minute, 1<<30)
	if err != nil {
		t.Fatalf("pending enrichments: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("expected 10 items, got %d", len(items))
	}

	pyCount := 0
	for _, it := range items {
		if it.PathWeight == 1 {
			pyCount++
		}
	}
	if pyCount != 3 {
		t.Fatalf("expected all 3 python spans represented in the batch, got %d", pyCount)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestIndexStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetIndexStatus(ctx)
	if err != nil {
		t.Fatalf("get index status: %v", err)
	}
	if st.State != "idle" {
		t.Fatalf("expected default state idle, got %q", st.State)
	}

	if err := s.SetState(ctx, "slicing"); err != nil {
		t.Fatalf("set state: %v", err)
	}
	now := time.Now()
	if err := s.RecordFullIndex(ctx, now); err != nil {
		t.Fatalf("record full index: %v", err)
	}

	st2, _ := s.GetIndexStatus(ctx)
	if st2.State != "slicing" {
		t.Fatalf("expected state slicing, got %q", st2.State)
	}
	if st2.LastFullIndexAt == nil {
		t.Fatal("expected last_full_index_at to be set")
	}
}

func TestDeleteFileCascadesSpans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fileID, _ := s.UpsertFile(ctx, "/repo/a.go", 100, "h1")
	s.ReplaceSpans(ctx, fileID, []SpanInput{{Hash: "span-a", Content: "x", PathWeight: 1}})

	if err := s.DeleteFile(ctx, fileID); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if _, err := s.GetSpanByHash(ctx, "span-a"); err != ErrUnknownSpan {
		t.Fatalf("expected span to be gone after file delete, got %v", err)
	}
}
