package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Layout resolves the well-known paths under a repo's .llmc/ workspace
// directory, per spec §6.
type Layout struct {
	RepoRoot string
	Dir      string // RepoRoot/.llmc
}

// NewLayout builds a Layout for the given canonical repo root, creating the
// workspace directory tree if it does not already exist.
func NewLayout(repoRoot string) (*Layout, error) {
	l := &Layout{RepoRoot: repoRoot, Dir: filepath.Join(repoRoot, ".llmc")}
	for _, d := range []string{l.Dir, l.RagDir(), l.EmbeddingsDir(), l.LocksDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: creating %s: %w", d, err)
		}
	}
	return l, nil
}

func (l *Layout) RagDir() string         { return filepath.Join(l.Dir, "rag") }
func (l *Layout) EmbeddingsDir() string  { return filepath.Join(l.RagDir(), "embeddings") }
func (l *Layout) LocksDir() string       { return filepath.Join(l.Dir, "locks") }
func (l *Layout) SpanStorePath() string  { return filepath.Join(l.RagDir(), "index_v2.db") }
func (l *Layout) StatusPath() string     { return filepath.Join(l.Dir, "rag_index_status.json") }
func (l *Layout) SymbolGraphPath() string { return filepath.Join(l.Dir, "rag_graph.json") }
func (l *Layout) RepoLockPath() string   { return filepath.Join(l.LocksDir(), "repo.lock") }

// GlobalDir returns ~/.llmc, the process-wide directory holding the
// registry and the persistent failure store.
func GlobalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("workspace: resolving home dir: %w", err)
	}
	dir := filepath.Join(home, ".llmc")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: creating %s: %w", dir, err)
	}
	return dir, nil
}

// RegistryPath returns the path to the global repos.yml registry file.
func RegistryPath() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "repos.yml"), nil
}

// FailureStorePath returns the path to the global persistent failure store.
func FailureStorePath() (string, error) {
	dir, err := GlobalDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rag-failures.db"), nil
}

// IndexStatus is the JSON freshness record written atomically after every
// indexing pass, per spec §6.
type IndexStatus struct {
	Repo              string    `json:"repo"`
	LastFullIndexUTC  time.Time `json:"last_full_index_utc"`
	LastIncrementalUTC time.Time `json:"last_incremental_utc"`
	FilesTotal        int       `json:"files_total"`
	SpansTotal        int       `json:"spans_total"`
	EmbeddingsTotal   int       `json:"embeddings_total"`
	EnrichmentsTotal  int       `json:"enrichments_total"`
	Pending           int       `json:"pending"`
	Poisoned          int       `json:"poisoned"`
	StaleFiles        int       `json:"stale_files"`
	ModelID           string    `json:"model_id"`
	SchemaVersion     int       `json:"schema_version"`
}

// ReadStatus loads the index-status record, returning a zero-value status
// (not an error) if the file does not yet exist — a fresh repo has no
// history.
func (l *Layout) ReadStatus() (IndexStatus, error) {
	var status IndexStatus
	data, err := os.ReadFile(l.StatusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return status, fmt.Errorf("workspace: reading status: %w", err)
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("workspace: parsing status: %w", err)
	}
	return status, nil
}

// WriteStatus persists the index-status record with a write-then-rename so
// readers never observe a partially written file.
func (l *Layout) WriteStatus(status IndexStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encoding status: %w", err)
	}
	return atomicWriteFile(l.StatusPath(), data)
}

func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workspace: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workspace: renaming temp file: %w", err)
	}
	return nil
}

// RegisteredRepo is one entry in the global registry file.
type RegisteredRepo struct {
	ID           string    `yaml:"id"`
	Root         string    `yaml:"root"`
	Domain       string    `yaml:"domain"`
	RegisteredUTC time.Time `yaml:"registered_utc"`
}

// Registry is the list of repos registered with the daemon, persisted as
// YAML at ~/.llmc/repos.yml.
type Registry struct {
	Repos []RegisteredRepo `yaml:"repos"`
}

// LoadRegistry reads the global registry file, returning an empty registry
// (not an error) if it does not yet exist.
func LoadRegistry() (*Registry, error) {
	path, err := RegistryPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, fmt.Errorf("workspace: reading registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("workspace: parsing registry: %w", err)
	}
	return &reg, nil
}

// Save persists the registry atomically.
func (r *Registry) Save() error {
	path, err := RegistryPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("workspace: encoding registry: %w", err)
	}
	return atomicWriteFile(path, data)
}

// Register adds or updates a repo entry, keyed by id.
func (r *Registry) Register(id, root, domain string) {
	for i, rr := range r.Repos {
		if rr.ID == id {
			r.Repos[i].Root = root
			r.Repos[i].Domain = domain
			return
		}
	}
	r.Repos = append(r.Repos, RegisteredRepo{
		ID:            id,
		Root:          root,
		Domain:        domain,
		RegisteredUTC: time.Now().UTC(),
	})
}

// Unregister removes a repo entry by id. Reports whether an entry existed.
func (r *Registry) Unregister(id string) bool {
	for i, rr := range r.Repos {
		if rr.ID == id {
			r.Repos = append(r.Repos[:i], r.Repos[i+1:]...)
			return true
		}
	}
	return false
}
