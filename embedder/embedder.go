// Package embedder turns span text into vectors, caching results by
// (model id, text hash) so re-embedding unchanged content never reaches the
// backend, per spec component C4.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Vector is an L2-normalized embedding.
type Vector []float32

// Backend is the minimal capability an embedder needs from a model
// backend: turn a batch of texts into a batch of raw vectors.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([]Vector, error)
}

// Config controls batching, truncation, and caching.
type Config struct {
	// ModelID identifies the embedding model, including its dimension
	// (e.g. "text-embedding-3-small-1536") so a model or dimension change
	// naturally invalidates the cache and produces a fresh staleness
	// signal for the store.
	ModelID string
	// BatchSize bounds how many texts are sent to the backend per call.
	BatchSize int
	// MaxChars truncates a single text before embedding, on a word
	// boundary, to stay under the backend's context window.
	MaxChars int
	// CacheSize bounds the in-process LRU cache entry count.
	CacheSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(modelID string) Config {
	return Config{
		ModelID:   modelID,
		BatchSize: 32,
		MaxChars:  24000,
		CacheSize: 8192,
	}
}

// Embedder embeds texts in batches, serving repeats from an in-process LRU
// cache keyed by (model id, truncated text hash).
type Embedder struct {
	cfg     Config
	backend Backend
	cache   *lru.Cache[string, Vector]
}

// New creates an Embedder. backend performs the actual model call; the
// cache sits in front of it.
func New(cfg Config, backend Backend) (*Embedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 24000
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 8192
	}
	cache, err := lru.New[string, Vector](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedder: creating cache: %w", err)
	}
	return &Embedder{cfg: cfg, backend: backend, cache: cache}, nil
}

// Embed returns one vector per input text, in order. Cache hits never
// reach the backend; misses are batched and sent together, then cached.
// A batch failure falls back to embedding each text individually so one
// oversized or malformed text does not lose the whole batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		truncated := truncate(text, e.cfg.MaxChars)
		key := cacheKey(e.cfg.ModelID, truncated)
		keys[i] = key
		if v, ok := e.cache.Get(key); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, truncated)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	for start := 0; start < len(missTexts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]
		vecs, err := e.backend.Embed(ctx, batch)
		if err != nil {
			slog.Warn("embedder: batch failed, falling back to individual calls",
				"batch_size", len(batch), "error", err)
			for j, text := range batch {
				idx := missIdx[start+j]
				single, serr := e.backend.Embed(ctx, []string{text})
				if serr != nil || len(single) == 0 {
					return nil, fmt.Errorf("embedder: embedding text at index %d: %w", idx, serr)
				}
				v := normalize(single[0])
				out[idx] = v
				e.cache.Add(keys[idx], v)
			}
			continue
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder: backend returned %d vectors for %d texts", len(vecs), len(batch))
		}
		for j, v := range vecs {
			idx := missIdx[start+j]
			nv := normalize(v)
			out[idx] = nv
			e.cache.Add(keys[idx], nv)
		}
	}

	return out, nil
}

// ModelID reports the embedder's configured model identifier, which the
// store uses to detect a model change and mark prior embeddings stale.
func (e *Embedder) ModelID() string { return e.cfg.ModelID }

func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := strings.LastIndex(text[:maxChars], " ")
	if cut <= 0 {
		cut = maxChars
	}
	return text[:cut]
}

func cacheKey(modelID, text string) string {
	h := sha256.Sum256([]byte(text))
	return modelID + ":" + hex.EncodeToString(h[:])
}

// normalize L2-normalizes v so downstream cosine similarity reduces to a
// dot product, matching what the vector store's KNN index expects.
func normalize(v Vector) Vector {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
