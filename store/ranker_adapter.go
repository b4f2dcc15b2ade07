package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/llmc-dev/rag-core/ranker"
)

// Candidate mirrors ranker.Candidate; the store never needs its own
// representation since it serves the ranker directly.
type Candidate = ranker.Candidate

var _ ranker.Store = (*Store)(nil)

func unmarshalIdentifiers(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

// LexicalSearch performs an FTS5 BM25 search over span content. ft.rank is
// fts5's built-in bm25 weighting, more negative for a better match; it is
// negated into RawScore so higher always means better, matching VectorSearch's
// convention.
func (s *Store) LexicalSearch(ctx context.Context, query string, k int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, f.path, sp.content, sp.identifiers,
			sp.line_start, sp.line_end, IFNULL(e.summary, ''), ft.rank
		FROM spans_fts ft
		JOIN spans sp ON sp.id = ft.rowid
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE spans_fts MATCH ?
		ORDER BY ft.rank
		LIMIT ?
	`, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Candidate
	for rows.Next() {
		var c Candidate
		var identJSON sql.NullString
		var bm25Rank float64
		if err := rows.Scan(&c.SpanID, &c.FilePath, &c.Content, &identJSON,
			&c.LineStart, &c.LineEnd, &c.Summary, &bm25Rank); err != nil {
			return nil, err
		}
		c.Identifiers = unmarshalIdentifiers(identJSON)
		c.RawScore = -bm25Rank
		results = append(results, c)
	}
	return results, rows.Err()
}

// GraphNeighbors returns one-hop neighbors of the given span hashes: spans
// whose parent is one of them, or that share a parent with one of them.
// Results exclude the seeds themselves.
func (s *Store) GraphNeighbors(ctx context.Context, spanHashes []string, k int) ([]Candidate, error) {
	if len(spanHashes) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(spanHashes))
	for i := range spanHashes {
		placeholders[i] = "?"
	}
	inClause := strings.Join(placeholders, ", ")

	query := `
		SELECT DISTINCT sp.span_hash, f.path, sp.content, sp.identifiers,
			sp.line_start, sp.line_end, IFNULL(e.summary, '')
		FROM spans sp
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE sp.span_hash NOT IN (` + inClause + `)
		AND (
			sp.parent_span_id IN (SELECT id FROM spans WHERE span_hash IN (` + inClause + `))
			OR sp.parent_span_id IN (
				SELECT parent_span_id FROM spans WHERE span_hash IN (` + inClause + `) AND parent_span_id IS NOT NULL
			)
		)
		LIMIT ?
	`
	// query references the IN clause three times; duplicate the seed args
	// accordingly (placeholders already counted once above, so append two
	// more copies).
	fullArgs := make([]interface{}, 0, len(spanHashes)*3+1)
	for _, h := range spanHashes {
		fullArgs = append(fullArgs, h)
	}
	for _, h := range spanHashes {
		fullArgs = append(fullArgs, h)
	}
	for _, h := range spanHashes {
		fullArgs = append(fullArgs, h)
	}
	fullArgs = append(fullArgs, k)

	rows, err := s.db.QueryContext(ctx, query, fullArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Candidate
	for rows.Next() {
		var c Candidate
		var identJSON sql.NullString
		if err := rows.Scan(&c.SpanID, &c.FilePath, &c.Content, &identJSON,
			&c.LineStart, &c.LineEnd, &c.Summary); err != nil {
			return nil, err
		}
		c.Identifiers = unmarshalIdentifiers(identJSON)
		results = append(results, c)
	}
	return results, rows.Err()
}
