package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// SpanInput is the data ReplaceSpans needs for one span; it is built from
// the slicer's output plus the bucket weighting the orchestrator assigns
// by path.
type SpanInput struct {
	Hash        string
	Content     string
	SliceType   string
	SubLanguage string
	ByteStart   int
	ByteEnd     int
	LineStart   int
	LineEnd     int
	Confidence  float64
	Identifiers []string
	PathWeight  int
	// ParentHash, when set, names another span in the same batch whose id
	// becomes this span's parent_span_id once both are resolved.
	ParentHash string
}

// SpanRow is a row in the spans table, as returned to the ranker and
// orchestrator.
type SpanRow struct {
	ID          int64
	FileID      int64
	Hash        string
	Content     string
	SliceType   string
	SubLanguage string
	ByteStart   int
	ByteEnd     int
	LineStart   int
	LineEnd     int
	Confidence  float64
	ParentID    *int64
	Identifiers []string
	PathWeight  int
	ModelID     string
}

// SpanDiff reports how ReplaceSpans changed a file's spans.
type SpanDiff struct {
	Inserted  int
	Preserved int
	Removed   int
}

// ReplaceSpans diffs new against current spans by SpanHash: unchanged
// hashes are preserved (keeping their embedding and enrichment), new
// hashes are inserted, and vanished hashes are removed, cascading their
// embedding and enrichment. The entire call is one transaction.
func (s *Store) ReplaceSpans(ctx context.Context, fileID int64, spans []SpanInput) (SpanDiff, error) {
	var diff SpanDiff

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing := map[string]int64{}
		rows, err := tx.QueryContext(ctx, "SELECT id, span_hash FROM spans WHERE file_id = ?", fileID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			var hash string
			if err := rows.Scan(&id, &hash); err != nil {
				rows.Close()
				return err
			}
			existing[hash] = id
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		wanted := make(map[string]struct{}, len(spans))
		for _, sp := range spans {
			wanted[sp.Hash] = struct{}{}
		}

		// Remove vanished hashes; span_vectors has no FK enforcement
		// (it's a virtual table) so its rows are deleted explicitly.
		for hash, id := range existing {
			if _, ok := wanted[hash]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM span_vectors WHERE span_id = ?", id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM spans WHERE id = ?", id); err != nil {
				return err
			}
			diff.Removed++
		}

		var nextOrder int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(insertion_order), 0) + 1 FROM spans").Scan(&nextOrder); err != nil {
			return err
		}

		insertedIDs := make(map[string]int64, len(spans))
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO spans (file_id, span_hash, content, slice_type, sub_language,
				byte_start, byte_end, line_start, line_end, confidence, identifiers,
				path_weight, insertion_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sp := range spans {
			if id, ok := existing[sp.Hash]; ok {
				insertedIDs[sp.Hash] = id
				diff.Preserved++
				continue
			}
			idents, err := json.Marshal(sp.Identifiers)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, fileID, sp.Hash, sp.Content, sp.SliceType, sp.SubLanguage,
				sp.ByteStart, sp.ByteEnd, sp.LineStart, sp.LineEnd, sp.Confidence, string(idents),
				sp.PathWeight, nextOrder)
			if err != nil {
				return err
			}
			nextOrder++
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			insertedIDs[sp.Hash] = id
			diff.Inserted++
		}

		for _, sp := range spans {
			if sp.ParentHash == "" {
				continue
			}
			childID, ok := insertedIDs[sp.Hash]
			if !ok {
				continue
			}
			parentID, ok := insertedIDs[sp.ParentHash]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE spans SET parent_span_id = ? WHERE id = ?", parentID, childID); err != nil {
				return err
			}
		}

		return nil
	})

	return diff, err
}

// GetSpanByHash retrieves a span row by its SpanHash.
func (s *Store) GetSpanByHash(ctx context.Context, hash string) (*SpanRow, error) {
	return s.scanSpanRow(ctx, "SELECT id, file_id, span_hash, content, slice_type, sub_language, byte_start, byte_end, line_start, line_end, confidence, parent_span_id, identifiers, path_weight, COALESCE(model_id, '') FROM spans WHERE span_hash = ?", hash)
}

func (s *Store) scanSpanRow(ctx context.Context, query string, args ...interface{}) (*SpanRow, error) {
	row := &SpanRow{}
	var parentID sql.NullInt64
	var identJSON sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.ID, &row.FileID, &row.Hash, &row.Content, &row.SliceType, &row.SubLanguage,
		&row.ByteStart, &row.ByteEnd, &row.LineStart, &row.LineEnd, &row.Confidence,
		&parentID, &identJSON, &row.PathWeight, &row.ModelID)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownSpan
	}
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		row.ParentID = &parentID.Int64
	}
	if identJSON.Valid && identJSON.String != "" {
		if err := json.Unmarshal([]byte(identJSON.String), &row.Identifiers); err != nil {
			return nil, err
		}
	}
	return row, nil
}
