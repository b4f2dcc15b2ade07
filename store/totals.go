package store

import "context"

// Totals is a point-in-time count of each major table, used to populate
// the workspace status file's summary fields.
type Totals struct {
	Files       int
	Spans       int
	Embeddings  int
	Enrichments int
}

// GetTotals returns the current row counts for files, spans, span_vectors,
// and enrichments.
func (s *Store) GetTotals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&t.Files); err != nil {
		return Totals{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM spans").Scan(&t.Spans); err != nil {
		return Totals{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM span_vectors").Scan(&t.Embeddings); err != nil {
		return Totals{}, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM enrichments").Scan(&t.Enrichments); err != nil {
		return Totals{}, err
	}
	return t, nil
}
