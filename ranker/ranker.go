// Package ranker gathers lexical, vector, and graph candidates for a query,
// fuses them with Reciprocal Rank Fusion, optionally expands one hop across
// a symbol graph, and trims the result to a diversity-aware budget, per
// spec component C5.
package ranker

import (
	"context"
	"errors"
	"fmt"
)

// ErrStaleIndex is returned when the number of files with unindexed
// changes exceeds Config.MaxStaleFiles: results could be built on content
// that no longer matches the repo on disk.
var ErrStaleIndex = errors.New("ranker: index is stale")

// Candidate is one retrieval hit from a single method, before fusion.
type Candidate struct {
	SpanID      string
	FilePath    string
	Content     string
	Identifiers []string // used for MMR's Jaccard diversity term
	ParentOf    string   // non-empty when this candidate arose via graph expansion from ParentOf
	LineStart   int
	LineEnd     int
	Summary     string  // enrichment summary, empty if the span hasn't been enriched
	RawScore    float64 // method-native score: negated BM25 rank for lexical, similarity for vector
}

// Store is the subset of the span store the ranker depends on.
type Store interface {
	LexicalSearch(ctx context.Context, query string, k int) ([]Candidate, error)
	VectorSearch(ctx context.Context, queryVec []float32, k int) ([]Candidate, error)
	GraphNeighbors(ctx context.Context, spanIDs []string, k int) ([]Candidate, error)
	StaleFileCount(ctx context.Context) (int, error)
}

// Embedder embeds a single query string.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Config controls candidate gathering, fusion, and budget trimming.
type Config struct {
	LexicalK      int // candidate pool size from lexical search
	VectorK       int // candidate pool size from vector search
	GraphExpand   bool
	GraphK        int
	GraphDecay    float64 // score multiplier applied to graph-expanded candidates
	MMRLambda     float64 // relevance/diversity tradeoff, 0..1
	MaxStaleFiles int     // freshness gate threshold; 0 disables the gate
}

// DefaultConfig returns the spec's default tuning.
func DefaultConfig() Config {
	return Config{
		LexicalK:      200,
		VectorK:       200,
		GraphExpand:   true,
		GraphK:        50,
		GraphDecay:    0.6,
		MMRLambda:     0.7,
		MaxStaleFiles: 50,
	}
}

// Result is one ranked, scored, budget-surviving span.
type Result struct {
	SpanID       string
	FilePath     string
	Content      string
	LineStart    int
	LineEnd      int
	Score        float64 // normalized 0-100, fused across contributing methods
	LexicalScore float64 // native BM25-derived score, 0 if lexical search didn't surface this span
	VectorScore  float64 // native similarity score, 0 if vector search didn't surface this span
	Summary      string
	GraphHops    int // 1 if this result only arose via graph expansion, 0 otherwise
	Methods      []string
}

// Ranker performs the full candidate-gather-fuse-expand-trim pipeline.
type Ranker struct {
	store    Store
	embedder Embedder
	cfg      Config
}

// New creates a Ranker.
func New(store Store, embedder Embedder, cfg Config) *Ranker {
	return &Ranker{store: store, embedder: embedder, cfg: cfg}
}

// Rank returns results for query, ordered best-first, greedily selected by
// MMR until their combined Content would exceed budget characters. At least
// one result is always returned when any candidates survive fusion, even if
// it alone exceeds budget. An empty result slice with a nil error means the
// search ran successfully and found nothing; a non-nil error means the
// search itself failed.
func (r *Ranker) Rank(ctx context.Context, query string, budget int) ([]Result, error) {
	if r.cfg.MaxStaleFiles > 0 {
		stale, err := r.store.StaleFileCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("ranker: checking staleness: %w", err)
		}
		if stale > r.cfg.MaxStaleFiles {
			return nil, fmt.Errorf("%w: %d files pending re-index (limit %d)", ErrStaleIndex, stale, r.cfg.MaxStaleFiles)
		}
	}

	lexical, lexErr := r.store.LexicalSearch(ctx, query, r.cfg.LexicalK)

	var vector []Candidate
	var vecErr error
	qvec, embErr := r.embedder.EmbedQuery(ctx, query)
	if embErr != nil {
		vecErr = embErr
	} else {
		vector, vecErr = r.store.VectorSearch(ctx, qvec, r.cfg.VectorK)
	}

	if lexErr != nil && vecErr != nil {
		return nil, fmt.Errorf("ranker: both lexical and vector search failed: lexical=%v vector=%v", lexErr, vecErr)
	}

	fused := fuseRRF(lexical, vector, nil)

	if r.cfg.GraphExpand && len(fused) > 0 {
		seedIDs := make([]string, 0, len(fused))
		for _, c := range fused {
			seedIDs = append(seedIDs, c.SpanID)
		}
		neighbors, err := r.store.GraphNeighbors(ctx, seedIDs, r.cfg.GraphK)
		if err == nil && len(neighbors) > 0 {
			graphFused := fuseRRF(nil, nil, neighbors)
			for id, c := range graphFused {
				if _, exists := fused[id]; exists {
					continue
				}
				fused[id] = scaledCandidate(c, r.cfg.GraphDecay)
			}
		}
	}

	ranked := rankByScore(fused)
	diversified := mmrSelect(ranked, budget, r.cfg.MMRLambda)
	return normalizeScores(diversified), nil
}

func scaledCandidate(c scoredCandidate, decay float64) scoredCandidate {
	c.score *= decay
	return c
}
