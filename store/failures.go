package store

import (
	"context"
	"database/sql"
)

// FailureRecord is a row in the failures table: how many times a span has
// failed against a given chain, and why, most recently.
type FailureRecord struct {
	SpanHash     string
	ChainName    string
	Reason       string
	FailureCount int
}

// RecordFailure increments the failure count for (spanHash, chainName),
// inserting a new row at count 1 if none exists, and returns the new
// count so the caller can compare against the poisoning threshold.
func (s *Store) RecordFailure(ctx context.Context, spanHash, chainName, reason string) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failures (span_hash, chain_name, reason, failure_count, last_seen)
			VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(span_hash, chain_name) DO UPDATE SET
				reason = excluded.reason,
				failure_count = failures.failure_count + 1,
				last_seen = CURRENT_TIMESTAMP
		`, spanHash, chainName, reason)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			"SELECT failure_count FROM failures WHERE span_hash = ? AND chain_name = ?",
			spanHash, chainName).Scan(&count)
	})
	return count, err
}

// ResetFailures clears every failure record for a span across all chains;
// this is the operator-triggered un-poisoning operation.
func (s *Store) ResetFailures(ctx context.Context, spanHash string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM failures WHERE span_hash = ?", spanHash)
	return err
}

// PoisonedSpans returns the SpanHashes whose failure count against any
// chain has reached or exceeded threshold.
func (s *Store) PoisonedSpans(ctx context.Context, threshold int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT span_hash FROM failures WHERE failure_count >= ?", threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
