package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// EnrichmentBody is the structured output of a successful enrichment call.
type EnrichmentBody struct {
	Summary  string
	Inputs   []string
	Outputs  []string
	Pitfalls []string
	Tags     []string
}

// Enrichment is a full enrichments row.
type Enrichment struct {
	SpanHash    string
	Body        EnrichmentBody
	ChainName   string
	Tier        int
	Model       string
	CompletedAt time.Time
}

// WriteEnrichment writes the single current-enrichment row for a SpanHash,
// replacing any previous one. When Config.RetainEnrichmentHistory is set,
// the row being replaced is archived to enrichment_history first.
func (s *Store) WriteEnrichment(ctx context.Context, spanHash string, body EnrichmentBody, chainName string, tier int, model string, at time.Time) error {
	inputs, err := json.Marshal(body.Inputs)
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(body.Outputs)
	if err != nil {
		return err
	}
	pitfalls, err := json.Marshal(body.Pitfalls)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(body.Tags)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if s.cfg.RetainEnrichmentHistory {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO enrichment_history (span_hash, summary, inputs, outputs, pitfalls, tags, chain_name, tier, model, completed_at)
				SELECT span_hash, summary, inputs, outputs, pitfalls, tags, chain_name, tier, model, completed_at
				FROM enrichments WHERE span_hash = ?
			`, spanHash); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO enrichments (span_hash, summary, inputs, outputs, pitfalls, tags, chain_name, tier, model, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(span_hash) DO UPDATE SET
				summary = excluded.summary,
				inputs = excluded.inputs,
				outputs = excluded.outputs,
				pitfalls = excluded.pitfalls,
				tags = excluded.tags,
				chain_name = excluded.chain_name,
				tier = excluded.tier,
				model = excluded.model,
				completed_at = excluded.completed_at
		`, spanHash, body.Summary, string(inputs), string(outputs), string(pitfalls), string(tags),
			chainName, tier, model, at)
		return err
	})
}

// GetEnrichment retrieves the current enrichment for a SpanHash, if any.
func (s *Store) GetEnrichment(ctx context.Context, spanHash string) (*Enrichment, error) {
	var e Enrichment
	var inputs, outputs, pitfalls, tags sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT span_hash, summary, inputs, outputs, pitfalls, tags, chain_name, tier, model, completed_at
		FROM enrichments WHERE span_hash = ?
	`, spanHash).Scan(&e.SpanHash, &e.Body.Summary, &inputs, &outputs, &pitfalls, &tags,
		&e.ChainName, &e.Tier, &e.Model, &e.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(inputs.String), &e.Body.Inputs)
	_ = json.Unmarshal([]byte(outputs.String), &e.Body.Outputs)
	_ = json.Unmarshal([]byte(pitfalls.String), &e.Body.Pitfalls)
	_ = json.Unmarshal([]byte(tags.String), &e.Body.Tags)
	return &e, nil
}
