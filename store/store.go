// Package store implements the single-writer, many-reader durable span
// store keyed per repo, per spec component C3: files, spans, embeddings,
// enrichments, routing decisions, failures, and an index status mirror.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// ErrUnknownSpan is returned by write_embedding-style operations when the
// SpanHash referenced does not exist.
var ErrUnknownSpan = errors.New("store: unknown span")

// ErrUnknownFile is returned when an operation references a FileId that
// does not exist.
var ErrUnknownFile = errors.New("store: unknown file")

// ErrCorruption is returned when the database fails its integrity check,
// either on open or after a commit. The daemon treats this as fatal for
// the affected repo: no further writes are attempted until an operator
// intervenes.
var ErrCorruption = errors.New("store: database failed integrity check")

// Config controls store-wide behavior not implied by the schema itself.
type Config struct {
	EmbeddingDim int
	// WeightTable maps a path-weight bucket name to its relative sampling
	// weight for pending_enrichments; lower weight means higher priority.
	WeightTable map[string]int
	// RetainEnrichmentHistory keeps previous enrichment rows in
	// enrichment_history instead of discarding them on replace.
	RetainEnrichmentHistory bool
}

// DefaultConfig returns the documented path-weight ratio (code:1, docs:7)
// and current-only enrichment retention.
func DefaultConfig(embeddingDim int) Config {
	return Config{
		EmbeddingDim:            embeddingDim,
		WeightTable:             map[string]int{"code": 1, "docs": 7},
		RetainEnrichmentHistory: false,
	}
}

// Store wraps the SQLite database backing one repo's index.
type Store struct {
	db  *sql.DB
	cfg Config
}

// Open opens (or creates) a SQLite database at dbPath and initializes the
// schema, including the vec0 and FTS5 virtual tables. Writers must hold an
// external per-repo lock (see the concurrency package); SQLite's WAL mode
// plus the schema's transactional boundaries make the store crash-safe on
// its own — an interrupted transaction is simply rolled back on next open.
func Open(dbPath string, cfg Config) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	if _, err := db.Exec(schemaSQL(cfg.EmbeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, cfg: cfg}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.CheckIntegrity(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CheckIntegrity runs SQLite's own integrity check and reports ErrCorruption
// if it fails. Callers that write in a transaction (inTx) rely on SQLite's
// atomic commit to never leave a corrupt result from a single failed write;
// this check instead catches damage from outside causes (disk faults,
// truncated files, a kill -9 mid-WAL-checkpoint).
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrCorruption, result)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for callers that need advanced access
// (the orchestrator's consistency scan and deleted-file reconciliation).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec's vec0 virtual table.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
