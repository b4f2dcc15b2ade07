package store

import "context"

// EmbeddingWorkItem is one span awaiting an embedding, or awaiting
// re-embedding because its model_id no longer matches currentModel.
type EmbeddingWorkItem struct {
	SpanHash string
	Content  string
}

// PendingEmbeddings returns up to limit spans lacking a vector row, or
// whose vector was written under a different model generation than
// currentModel — the embed_batch operation's work queue. Unlike
// PendingEnrichments this performs no weighted sampling: embedding is
// cheap and order-independent, so a plain oldest-file-first scan is
// sufficient to drain the backlog.
func (s *Store) PendingEmbeddings(ctx context.Context, currentModel string, limit int) ([]EmbeddingWorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, sp.content
		FROM spans sp
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN span_vectors v ON v.span_id = sp.id
		WHERE v.span_id IS NULL OR COALESCE(sp.model_id, '') != ?
		ORDER BY f.mtime ASC, sp.insertion_order ASC
		LIMIT ?
	`, currentModel, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmbeddingWorkItem
	for rows.Next() {
		var w EmbeddingWorkItem
		if err := rows.Scan(&w.SpanHash, &w.Content); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
