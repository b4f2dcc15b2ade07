package orchestrator

import (
	"context"
	"fmt"
)

// EmbedBatch embeds up to limit spans lacking a current-model vector,
// using the configured batch size if limit is 0.
func (o *Orchestrator) EmbedBatch(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = o.cfg.EmbedBatchSize
	}

	if err := o.lock.Acquire(ctx); err != nil {
		return 0, fmt.Errorf("orchestrator: acquiring repo lock: %w", err)
	}
	defer o.lock.Release()

	o.setState(ctx, StateEmbedding)

	items, err := o.store.PendingEmbeddings(ctx, o.embedder.ModelID(), limit)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: listing pending embeddings: %w", err)
	}
	if len(items) == 0 {
		o.setState(ctx, StateIdle)
		return 0, nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Content
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: embedding batch: %w", err)
	}
	if len(vectors) != len(items) {
		return 0, fmt.Errorf("orchestrator: embedder returned %d vectors for %d spans", len(vectors), len(items))
	}

	written := 0
	for i, it := range items {
		if err := o.store.WriteEmbedding(ctx, it.SpanHash, o.embedder.ModelID(), vectors[i]); err != nil {
			return written, fmt.Errorf("orchestrator: writing embedding for %s: %w", it.SpanHash, err)
		}
		written++
	}

	if err := o.refreshStatus(ctx); err != nil {
		return written, err
	}
	o.setState(ctx, StateIdle)
	return written, nil
}
