package store

import "fmt"

// schemaSQL returns the DDL for every logical table: files, spans,
// embeddings, enrichments, routing decisions, failures, and the index
// status mirror. embeddingDim sizes the vec0 virtual table.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS files (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    mtime INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS spans (
    id INTEGER PRIMARY KEY,
    file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    span_hash TEXT NOT NULL UNIQUE,
    content TEXT NOT NULL,
    slice_type TEXT NOT NULL,
    sub_language TEXT,
    byte_start INTEGER NOT NULL,
    byte_end INTEGER NOT NULL,
    line_start INTEGER NOT NULL,
    line_end INTEGER NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    parent_span_id INTEGER REFERENCES spans(id) ON DELETE SET NULL,
    identifiers JSON,
    path_weight INTEGER NOT NULL DEFAULT 1,
    insertion_order INTEGER NOT NULL,
    model_id TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS span_vectors USING vec0(
    span_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS spans_fts USING fts5(
    content,
    content='spans',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS spans_ai AFTER INSERT ON spans BEGIN
    INSERT INTO spans_fts(rowid, content) VALUES (new.id, new.content);
END;
CREATE TRIGGER IF NOT EXISTS spans_ad AFTER DELETE ON spans BEGIN
    INSERT INTO spans_fts(spans_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;
CREATE TRIGGER IF NOT EXISTS spans_au AFTER UPDATE ON spans BEGIN
    INSERT INTO spans_fts(spans_fts, rowid, content) VALUES ('delete', old.id, old.content);
    INSERT INTO spans_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TABLE IF NOT EXISTS enrichments (
    span_hash TEXT PRIMARY KEY REFERENCES spans(span_hash) ON DELETE CASCADE,
    summary TEXT NOT NULL,
    inputs JSON,
    outputs JSON,
    pitfalls JSON,
    tags JSON,
    chain_name TEXT NOT NULL,
    tier INTEGER NOT NULL,
    model TEXT NOT NULL,
    completed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_history (
    id INTEGER PRIMARY KEY,
    span_hash TEXT NOT NULL,
    summary TEXT NOT NULL,
    inputs JSON,
    outputs JSON,
    pitfalls JSON,
    tags JSON,
    chain_name TEXT NOT NULL,
    tier INTEGER NOT NULL,
    model TEXT NOT NULL,
    completed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_decisions (
    id INTEGER PRIMARY KEY,
    span_hash TEXT NOT NULL,
    chain_name TEXT NOT NULL,
    backend_name TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    status TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    estimated_usd REAL NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS failures (
    span_hash TEXT NOT NULL,
    chain_name TEXT NOT NULL,
    reason TEXT NOT NULL,
    failure_count INTEGER NOT NULL DEFAULT 1,
    last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (span_hash, chain_name)
);

CREATE TABLE IF NOT EXISTS index_status (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    state TEXT NOT NULL DEFAULT 'idle',
    last_full_index_at DATETIME,
    last_incremental_sync_at DATETIME,
    pending_count INTEGER NOT NULL DEFAULT 0,
    poisoned_count INTEGER NOT NULL DEFAULT 0,
    stale_file_count INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO index_status (id) VALUES (1);

CREATE INDEX IF NOT EXISTS idx_spans_file ON spans(file_id);
CREATE INDEX IF NOT EXISTS idx_spans_parent ON spans(parent_span_id);
CREATE INDEX IF NOT EXISTS idx_spans_path_weight ON spans(path_weight);
CREATE INDEX IF NOT EXISTS idx_files_mtime ON files(mtime);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_span ON routing_decisions(span_hash);
CREATE INDEX IF NOT EXISTS idx_failures_count ON failures(failure_count);
`, embeddingDim)
}
