package store

import (
	"context"
	"database/sql"
)

// WriteEmbedding writes or replaces the embedding for a span. Fails with
// ErrUnknownSpan if the SpanHash is absent.
func (s *Store) WriteEmbedding(ctx context.Context, spanHash, modelID string, vector []float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var spanID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM spans WHERE span_hash = ?", spanHash).Scan(&spanID)
		if err == sql.ErrNoRows {
			return ErrUnknownSpan
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO span_vectors (span_id, embedding) VALUES (?, ?)",
			spanID, serializeFloat32(vector)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE spans SET model_id = ? WHERE id = ?", modelID, spanID); err != nil {
			return err
		}
		return nil
	})
}

// VectorSearch performs a KNN search over span_vectors, returning the
// top-k nearest spans with their distance converted to a similarity score.
// The embedder emits L2-normalized vectors (C4's contract), so for unit
// vectors L2 distance d and cosine similarity relate by d^2 = 2(1 - cos);
// RawScore inverts that to recover cos = 1 - d^2/2.
func (s *Store) VectorSearch(ctx context.Context, queryVec []float32, k int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, f.path, sp.content, sp.identifiers, sp.id,
			sp.line_start, sp.line_end, IFNULL(e.summary, ''), v.distance
		FROM span_vectors v
		JOIN spans sp ON sp.id = v.span_id
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Candidate
	for rows.Next() {
		c, _, err := scanCandidateWithDistance(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func scanCandidateWithDistance(rows *sql.Rows) (Candidate, float64, error) {
	var c Candidate
	var identJSON sql.NullString
	var spanID int64
	var distance float64
	if err := rows.Scan(&c.SpanID, &c.FilePath, &c.Content, &identJSON, &spanID,
		&c.LineStart, &c.LineEnd, &c.Summary, &distance); err != nil {
		return Candidate{}, 0, err
	}
	c.Identifiers = unmarshalIdentifiers(identJSON)
	c.RawScore = 1 - (distance*distance)/2
	return c, distance, nil
}
