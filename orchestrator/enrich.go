package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/llmc-dev/rag-core/backend"
	"github.com/llmc-dev/rag-core/router"
	"github.com/llmc-dev/rag-core/store"
)

// EnrichReport summarizes one enrich_batch call.
type EnrichReport struct {
	Attempted int
	Enriched  int
	Deferred  int // every backend in the chain had its circuit open; retried next cycle
	Failed    int
	Poisoned  int // crossed PoisonThreshold on this attempt
}

// EnrichBatch draws up to limit eligible spans via weighted sampling and
// routes each through the configured chains, persisting a successful
// enrichment or recording a failure. When cfg.DryRun is set, routing still
// runs against live backends (so an operator can see what a batch would
// decide) but neither WriteEnrichment nor RecordFailure is called.
func (o *Orchestrator) EnrichBatch(ctx context.Context, limit int) (EnrichReport, error) {
	if limit <= 0 {
		limit = o.cfg.EnrichBatchSize
	}

	if err := o.lock.Acquire(ctx); err != nil {
		return EnrichReport{}, fmt.Errorf("orchestrator: acquiring repo lock: %w", err)
	}
	defer o.lock.Release()

	o.setState(ctx, StateEnriching)

	items, err := o.store.PendingEnrichments(ctx, limit, o.cfg.EnrichCooldown, o.cfg.PoisonThreshold)
	if err != nil {
		return EnrichReport{}, fmt.Errorf("orchestrator: listing pending enrichments: %w", err)
	}

	var report EnrichReport
	for _, item := range items {
		report.Attempted++

		req := backend.EnrichmentRequest{
			SpanText:  item.Content,
			Path:      item.FilePath,
			SliceType: item.SliceType,
			TaskKind:  "enrichment",
			Timeout:   o.cfg.RequestTimeout,
		}

		resp, decisions, routeErr := o.router.Route(ctx, sliceFamily(item.SliceType), req)

		if !o.cfg.DryRun {
			for _, d := range decisions {
				drErr := o.store.WriteRoutingDecision(ctx, store.RoutingDecisionRow{
					SpanHash:     item.SpanHash,
					ChainName:    d.ChainName,
					BackendName:  d.BackendName,
					Attempt:      d.Attempt,
					Status:       d.Status,
					DurationMS:   d.DurationMS,
					InputTokens:  d.InputTokens,
					OutputTokens: d.OutputTokens,
					EstimatedUSD: d.EstimatedUSD,
				})
				if drErr != nil {
					return report, fmt.Errorf("orchestrator: writing routing decision: %w", drErr)
				}
			}
		}

		if routeErr != nil {
			if errors.Is(routeErr, router.ErrDeferred) {
				report.Deferred++
				continue
			}
			report.Failed++
			if o.cfg.DryRun {
				continue
			}
			chainName := "unknown"
			if len(decisions) > 0 {
				chainName = decisions[len(decisions)-1].ChainName
			}
			count, recErr := o.store.RecordFailure(ctx, item.SpanHash, chainName, routeErr.Error())
			if recErr != nil {
				return report, fmt.Errorf("orchestrator: recording failure: %w", recErr)
			}
			if count >= o.cfg.PoisonThreshold {
				report.Poisoned++
			}
			continue
		}

		if o.cfg.DryRun {
			report.Enriched++
			continue
		}

		last := decisions[len(decisions)-1]
		body := store.EnrichmentBody{
			Summary:  resp.Summary,
			Inputs:   resp.Inputs,
			Outputs:  resp.Outputs,
			Pitfalls: resp.Pitfalls,
			Tags:     resp.Tags,
		}
		if err := o.store.WriteEnrichment(ctx, item.SpanHash, body, last.ChainName, last.Attempt, last.BackendName, time.Now().UTC()); err != nil {
			return report, fmt.Errorf("orchestrator: writing enrichment: %w", err)
		}
		if err := o.store.ResetFailures(ctx, item.SpanHash); err != nil {
			return report, fmt.Errorf("orchestrator: clearing failure counters: %w", err)
		}
		report.Enriched++
	}

	if err := o.refreshStatus(ctx); err != nil {
		return report, err
	}
	o.setState(ctx, StateIdle)
	return report, nil
}
