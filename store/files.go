package store

import (
	"context"
	"database/sql"
)

// File is a row in the files table.
type File struct {
	ID          int64
	Path        string
	Mtime       int64
	ContentHash string
}

// UpsertFile inserts or updates a file's metadata and returns its FileId.
// Callers follow this with ReplaceSpans in the same logical update; the
// two are not required to share a transaction since ReplaceSpans diffs by
// SpanHash and is idempotent on retry.
func (s *Store) UpsertFile(ctx context.Context, path string, mtime int64, contentHash string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, mtime, content_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			content_hash = excluded.content_hash,
			updated_at = CURRENT_TIMESTAMP
	`, path, mtime, contentHash)
	if err != nil {
		return 0, err
	}

	// LastInsertId is not set when the upsert takes the UPDATE branch, so
	// the id is always read back by path.
	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM files WHERE path = ?", path).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetFile retrieves a file by ID.
func (s *Store) GetFile(ctx context.Context, id int64) (*File, error) {
	f := &File{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, path, mtime, content_hash FROM files WHERE id = ?", id,
	).Scan(&f.ID, &f.Path, &f.Mtime, &f.ContentHash)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownFile
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// GetFileByPath retrieves a file by its canonical path.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*File, error) {
	f := &File{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, path, mtime, content_hash FROM files WHERE path = ?", path,
	).Scan(&f.ID, &f.Path, &f.Mtime, &f.ContentHash)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownFile
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFile removes the file row and every dependent row. The file's
// vectors are deleted first, explicitly, since span_vectors carries no
// foreign key; spans then cascade via ON DELETE CASCADE, which in turn
// cascades enrichments and FTS rows through the schema's triggers and
// foreign keys.
func (s *Store) DeleteFile(ctx context.Context, fileID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM span_vectors WHERE span_id IN (SELECT id FROM spans WHERE file_id = ?)", fileID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", fileID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownFile
	}
	return nil
}

// StaleFileCount reports the number of files whose mtime predates their
// most recently written spans' insertion — used by the ranker's freshness
// gate. A file is stale when it has pending (un-enriched, or re-sliced but
// not yet re-embedded) spans older than one refresh cycle would allow; this
// store approximates that as files with at least one span that has no row
// in span_vectors.
func (s *Store) StaleFileCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT f.id)
		FROM files f
		JOIN spans sp ON sp.file_id = f.id
		LEFT JOIN span_vectors v ON v.span_id = sp.id
		WHERE v.span_id IS NULL
	`).Scan(&n)
	return n, err
}
