package goreason

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// testConfig returns a Config pointed at a local Ollama instance. It never
// issues a network call at construction time: llm.NewProvider and
// embedder.New/router.New only build client structs, so OpenRepo succeeds
// even with no model backend running.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Enrichment.Chain[0].TimeoutSeconds = 30
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	eng, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return eng
}

func TestNewBuildsEngineWithoutNetworkIO(t *testing.T) {
	eng := newTestEngine(t)
	if eng.router == nil {
		t.Fatal("router not built")
	}
	if eng.embedder == nil {
		t.Fatal("embedder not built")
	}
	if eng.daemon == nil {
		t.Fatal("daemon not built")
	}
}

func TestOpenRepoRegistersWorkspaceAndGlobalRegistry(t *testing.T) {
	eng := newTestEngine(t)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("seeding repo file: %v", err)
	}

	repo, err := eng.OpenRepo(context.Background(), "sample", root, "backend")
	if err != nil {
		t.Fatalf("OpenRepo: %v", err)
	}

	if repo.ID != "sample" {
		t.Errorf("ID = %q, want %q", repo.ID, "sample")
	}
	wantRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if repo.Layout.RepoRoot != wantRoot {
		t.Errorf("Layout.RepoRoot = %q, want %q", repo.Layout.RepoRoot, wantRoot)
	}

	if _, ok := eng.Repo("sample"); !ok {
		t.Fatal("repo not registered on Engine")
	}

	status, err := repo.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Repo != "" {
		t.Errorf("fresh repo status.Repo = %q, want empty", status.Repo)
	}

	if err := eng.CloseRepo("sample"); err != nil {
		t.Fatalf("CloseRepo: %v", err)
	}
	if _, ok := eng.Repo("sample"); ok {
		t.Fatal("repo still registered after CloseRepo")
	}

	if err := eng.Unregister("sample"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
}

func TestOpenRepoRejectsMissingRoot(t *testing.T) {
	eng := newTestEngine(t)

	missing := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := eng.OpenRepo(context.Background(), "missing", missing, "backend"); err == nil {
		t.Fatal("expected an error opening a nonexistent repo root")
	}
}

func TestQueryEmbedderWrapsBatchEmbedder(t *testing.T) {
	eng := newTestEngine(t)
	qe := queryEmbedder{emb: eng.embedder}
	if qe.emb == nil {
		t.Fatal("queryEmbedder holds no embedder")
	}
}
