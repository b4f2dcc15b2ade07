// Package router selects a backend chain for a Span's slice-type family,
// cascades across the chain's backends on retryable failure, and emits a
// Routing Decision per attempt, per spec component C6.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/llmc-dev/rag-core/backend"
	"github.com/llmc-dev/rag-core/reliability"
)

// ErrNoEnabledBackends is raised when a chain has zero enabled backends;
// the router reports this before calling any adapter.
var ErrNoEnabledBackends = errors.New("router: chain has no enabled backends")

// ErrDeferred is returned when every backend in a chain currently has its
// circuit open: the enrichment is deferred, not permanently failed.
var ErrDeferred = errors.New("router: all backends deferred (circuit open)")

// Member is one backend within a Chain.
type Member struct {
	Name    string
	Tier    int // lower tiers are attempted first
	Role    string // "primary" or "fallback"
	Enabled bool
	Backend *reliability.Wrapped
}

// Chain is a named, tier-ordered list of backends.
type Chain struct {
	Name    string
	Members []Member
}

// enabledInTierOrder returns the enabled members sorted by ascending tier,
// stable within a tier on declaration order.
func (c Chain) enabledInTierOrder() []Member {
	out := make([]Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Enabled {
			out = append(out, m)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Tier < out[j-1].Tier; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Decision is the audit record for one enrichment attempt against one
// backend within a chain.
type Decision struct {
	ChainName    string
	BackendName  string
	Attempt      int
	Status       string // "success", "failure", "retryable_exhaustion", "auth_denied", "quota_exceeded", "model_missing", "malformed_response", "circuit_open", "budget_exceeded"
	DurationMS   int64
	InputTokens  int
	OutputTokens int
	EstimatedUSD float64
	Err          error
}

// Router holds the route table (slice-type family -> chain name) and the
// configured chains.
type Router struct {
	chains  map[string]Chain
	routes  map[string]string
	fallback string
}

// Config builds a Router from a route table and chain set. fallback names
// the chain used when a slice-type family has no explicit route.
type Config struct {
	Chains   []Chain
	Routes   map[string]string // slice-type family -> chain name
	Fallback string
}

// New creates a Router from cfg.
func New(cfg Config) *Router {
	chains := make(map[string]Chain, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[c.Name] = c
	}
	return &Router{chains: chains, routes: cfg.Routes, fallback: cfg.Fallback}
}

// chainFor resolves the chain name for a slice-type family, falling back
// to the default chain when no route matches.
func (r *Router) chainFor(sliceFamily string) (Chain, error) {
	name, ok := r.routes[sliceFamily]
	if !ok {
		name = r.fallback
	}
	c, ok := r.chains[name]
	if !ok {
		return Chain{}, fmt.Errorf("router: chain %q not configured", name)
	}
	return c, nil
}

// Route runs req through the chain resolved for sliceFamily, cascading to
// the next tier-ordered backend on retryable failure. It returns the first
// successful response along with every Decision recorded along the way. A
// chain with no enabled backends fails before any adapter is called. If
// every backend's circuit is open, ErrDeferred is returned so the caller
// can retry later instead of treating the span as permanently failed.
func (r *Router) Route(ctx context.Context, sliceFamily string, req backend.EnrichmentRequest) (backend.EnrichmentResponse, []Decision, error) {
	chain, err := r.chainFor(sliceFamily)
	if err != nil {
		return backend.EnrichmentResponse{}, nil, err
	}

	members := chain.enabledInTierOrder()
	if len(members) == 0 {
		return backend.EnrichmentResponse{}, nil, fmt.Errorf("%w: chain %q", ErrNoEnabledBackends, chain.Name)
	}

	var decisions []Decision
	allCircuitOpen := true

	for attempt, m := range members {
		start := time.Now()
		resp, outcome, callErr := m.Backend.Call(ctx, req)
		dur := time.Since(start)

		status := classifyStatus(callErr, outcome)
		if status != "circuit_open" {
			allCircuitOpen = false
		}

		decisions = append(decisions, Decision{
			ChainName:    chain.Name,
			BackendName:  m.Name,
			Attempt:      attempt + 1,
			Status:       status,
			DurationMS:   dur.Milliseconds(),
			InputTokens:  outcome.InputTokens,
			OutputTokens: outcome.OutputTokens,
			EstimatedUSD: outcome.EstimatedUSD,
			Err:          callErr,
		})

		if callErr == nil {
			if verr := validateEnrichment(resp); verr != nil {
				decisions[len(decisions)-1].Status = "malformed_response"
				decisions[len(decisions)-1].Err = verr
				slog.Warn("router: backend produced malformed enrichment",
					"chain", chain.Name, "backend", m.Name, "err", verr)
				return backend.EnrichmentResponse{}, decisions, verr
			}
			slog.Info("router: enrichment succeeded",
				"chain", chain.Name, "backend", m.Name, "attempt", attempt+1)
			return resp, decisions, nil
		}

		if errors.Is(callErr, reliability.ErrBudgetExceeded) {
			return backend.EnrichmentResponse{}, decisions, callErr
		}

		if !reliability.IsRetryable(callErr) {
			slog.Warn("router: chain failed on non-retryable error",
				"chain", chain.Name, "backend", m.Name, "err", callErr)
			return backend.EnrichmentResponse{}, decisions, callErr
		}

		slog.Info("router: cascading to next backend",
			"chain", chain.Name, "failed_backend", m.Name, "err", callErr)
	}

	if allCircuitOpen {
		return backend.EnrichmentResponse{}, decisions, ErrDeferred
	}
	return backend.EnrichmentResponse{}, decisions, fmt.Errorf("router: chain %q exhausted all backends", chain.Name)
}

func classifyStatus(err error, outcome reliability.Outcome) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, reliability.ErrCircuitOpen) {
		return "circuit_open"
	}
	if errors.Is(err, reliability.ErrBudgetExceeded) {
		return "budget_exceeded"
	}
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindAuthDenied:
			return "auth_denied"
		case backend.KindQuotaExceeded:
			return "quota_exceeded"
		case backend.KindModelMissing:
			return "model_missing"
		case backend.KindMalformed:
			return "malformed_response"
		}
	}
	if outcome.Retryable {
		return "retryable_exhaustion"
	}
	return "failure"
}

// validateEnrichment checks the structural requirements of an enrichment
// output before it may be persisted; a malformed output is a non-retryable
// failure for the producing backend.
func validateEnrichment(resp backend.EnrichmentResponse) error {
	if resp.Summary == "" {
		return errors.New("router: enrichment missing summary")
	}
	return nil
}
