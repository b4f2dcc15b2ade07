package store

import "context"

// RoutingDecisionRow is one append-only audit row.
type RoutingDecisionRow struct {
	SpanHash     string
	ChainName    string
	BackendName  string
	Attempt      int
	Status       string
	DurationMS   int64
	InputTokens  int
	OutputTokens int
	EstimatedUSD float64
}

// WriteRoutingDecision appends one audit row; routing decisions are never
// mutated once written.
func (s *Store) WriteRoutingDecision(ctx context.Context, d RoutingDecisionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions
			(span_hash, chain_name, backend_name, attempt, status, duration_ms, input_tokens, output_tokens, estimated_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.SpanHash, d.ChainName, d.BackendName, d.Attempt, d.Status, d.DurationMS,
		d.InputTokens, d.OutputTokens, d.EstimatedUSD)
	return err
}

// RoutingDecisionsForSpan returns every routing decision recorded for a
// SpanHash, oldest first.
func (s *Store) RoutingDecisionsForSpan(ctx context.Context, spanHash string) ([]RoutingDecisionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_hash, chain_name, backend_name, attempt, status, duration_ms, input_tokens, output_tokens, estimated_usd
		FROM routing_decisions WHERE span_hash = ? ORDER BY id ASC
	`, spanHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoutingDecisionRow
	for rows.Next() {
		var d RoutingDecisionRow
		if err := rows.Scan(&d.SpanHash, &d.ChainName, &d.BackendName, &d.Attempt, &d.Status,
			&d.DurationMS, &d.InputTokens, &d.OutputTokens, &d.EstimatedUSD); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
