package store

import (
	"context"
	"database/sql"
	"time"
)

// IndexStatus mirrors the single-row index_status table the daemon and
// orchestrator keep current, and which a read-only status surface can
// expose as JSON without touching the rest of the schema.
type IndexStatus struct {
	State                 string
	LastFullIndexAt        *time.Time
	LastIncrementalSyncAt  *time.Time
	PendingCount           int
	PoisonedCount          int
	StaleFileCount         int
}

// GetIndexStatus reads the current index status row.
func (s *Store) GetIndexStatus(ctx context.Context) (IndexStatus, error) {
	var st IndexStatus
	var full, incr sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT state, last_full_index_at, last_incremental_sync_at, pending_count, poisoned_count, stale_file_count
		FROM index_status WHERE id = 1
	`).Scan(&st.State, &full, &incr, &st.PendingCount, &st.PoisonedCount, &st.StaleFileCount)
	if err != nil {
		return IndexStatus{}, err
	}
	if full.Valid {
		st.LastFullIndexAt = &full.Time
	}
	if incr.Valid {
		st.LastIncrementalSyncAt = &incr.Time
	}
	return st, nil
}

// SetState updates just the orchestrator state machine's current state.
func (s *Store) SetState(ctx context.Context, state string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE index_status SET state = ? WHERE id = 1", state)
	return err
}

// RecordFullIndex stamps the last_full_index_at timestamp.
func (s *Store) RecordFullIndex(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE index_status SET last_full_index_at = ? WHERE id = 1", at)
	return err
}

// RecordIncrementalSync stamps the last_incremental_sync_at timestamp.
func (s *Store) RecordIncrementalSync(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE index_status SET last_incremental_sync_at = ? WHERE id = 1", at)
	return err
}

// RefreshCounts recomputes pending_count, poisoned_count, and
// stale_file_count from the underlying tables and writes them back.
func (s *Store) RefreshCounts(ctx context.Context, poisonThreshold int) error {
	var pending, poisoned, stale int

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM spans sp LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE e.span_hash IS NULL
	`).Scan(&pending); err != nil {
		return err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT span_hash FROM failures GROUP BY span_hash HAVING MAX(failure_count) >= ?
		)
	`, poisonThreshold).Scan(&poisoned); err != nil {
		return err
	}

	stale, err := s.StaleFileCount(ctx)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE index_status SET pending_count = ?, poisoned_count = ?, stale_file_count = ? WHERE id = 1",
		pending, poisoned, stale)
	return err
}
