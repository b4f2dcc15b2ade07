package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewLayoutCreatesTree(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	for _, p := range []string{l.RagDir(), l.EmbeddingsDir(), l.LocksDir()} {
		fi, err := os.Stat(p)
		if err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", p)
		}
	}
}

func TestStatusRoundTrip(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	if err != nil {
		t.Fatal(err)
	}

	empty, err := l.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus on fresh repo: %v", err)
	}
	if empty.Repo != "" {
		t.Fatalf("expected zero-value status, got %+v", empty)
	}

	want := IndexStatus{
		Repo:             root,
		LastFullIndexUTC: time.Now().UTC().Truncate(time.Second),
		FilesTotal:       3,
		ModelID:          "test-model-384",
		SchemaVersion:    2,
	}
	if err := l.WriteStatus(want); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}

	got, err := l.ReadStatus()
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if got.FilesTotal != want.FilesTotal || got.ModelID != want.ModelID {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestRegistryRegisterUnregister(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	reg, err := LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.Repos) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(reg.Repos))
	}

	reg.Register("demo", filepath.Join("path", "to", "demo"), "code")
	if len(reg.Repos) != 1 {
		t.Fatalf("expected 1 entry after register, got %d", len(reg.Repos))
	}

	// Re-registering the same id updates in place, not append.
	reg.Register("demo", filepath.Join("path", "to", "demo2"), "code")
	if len(reg.Repos) != 1 {
		t.Fatalf("expected register to update in place, got %d entries", len(reg.Repos))
	}
	if reg.Repos[0].Root != filepath.Join("path", "to", "demo2") {
		t.Fatalf("expected updated root, got %s", reg.Repos[0].Root)
	}

	if err := reg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadRegistry()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Repos) != 1 {
		t.Fatalf("expected persisted entry, got %d", len(reloaded.Repos))
	}

	if !reloaded.Unregister("demo") {
		t.Fatal("expected unregister to report an existing entry")
	}
	if len(reloaded.Repos) != 0 {
		t.Fatal("expected registry to be empty after unregister")
	}
}
