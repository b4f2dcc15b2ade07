package store

import (
	"context"
	"math"
	"sort"
	"time"
)

// WorkItem is one unit of pending enrichment work.
type WorkItem struct {
	SpanHash   string
	FilePath   string
	Content    string
	SliceType  string
	PathWeight int
}

// PendingEnrichments returns up to limit Span IDs lacking a current
// Enrichment whose file mtime predates now-cooldown, skipping spans
// poisoned (failure count >= poisonThreshold) against any chain. The
// batch is drawn by weighted stratified sampling over path-weight
// buckets so a burst of low-priority content cannot starve high-priority
// content out of the batch: buckets are sampled in round-robin order,
// most urgent (lowest weight) bucket first, each round taking one
// candidate per non-empty bucket until limit is reached or candidates
// run out.
func (s *Store) PendingEnrichments(ctx context.Context, limit int, cooldown time.Duration, poisonThreshold int) ([]WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	cutoff := time.Now().Add(-cooldown).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.span_hash, f.path, sp.content, sp.slice_type, sp.path_weight
		FROM spans sp
		JOIN files f ON f.id = sp.file_id
		LEFT JOIN enrichments e ON e.span_hash = sp.span_hash
		WHERE e.span_hash IS NULL
		AND f.mtime < ?
		AND sp.span_hash NOT IN (
			SELECT span_hash FROM failures GROUP BY span_hash HAVING MAX(failure_count) >= ?
		)
		ORDER BY f.mtime DESC, sp.insertion_order ASC
	`, cutoff, poisonThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := map[int][]WorkItem{}
	for rows.Next() {
		var w WorkItem
		if err := rows.Scan(&w.SpanHash, &w.FilePath, &w.Content, &w.SliceType, &w.PathWeight); err != nil {
			return nil, err
		}
		buckets[w.PathWeight] = append(buckets[w.PathWeight], w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	weights := make([]int, 0, len(buckets))
	for w := range buckets {
		weights = append(weights, w)
	}
	sort.Ints(weights) // lowest weight value = highest priority bucket

	alloc := allocateByInverseWeight(weights, buckets, limit)

	var out []WorkItem
	for len(out) < limit {
		progressed := false
		for _, w := range weights {
			if alloc[w] <= 0 || len(buckets[w]) == 0 {
				continue
			}
			out = append(out, buckets[w][0])
			buckets[w] = buckets[w][1:]
			alloc[w]--
			progressed = true
			if len(out) >= limit {
				break
			}
		}
		if !progressed {
			break
		}
	}

	return out, nil
}

// allocateByInverseWeight splits limit slots across buckets proportionally
// to 1/weight (lower weight = higher priority = larger share), guaranteeing
// every non-empty bucket at least one slot, and never allocating more
// slots to a bucket than it has candidates.
func allocateByInverseWeight(weights []int, buckets map[int][]WorkItem, limit int) map[int]int {
	shareSum := 0.0
	inv := make(map[int]float64, len(weights))
	for _, w := range weights {
		iw := 1.0 / float64(maxInt(w, 1))
		inv[w] = iw
		shareSum += iw
	}

	alloc := make(map[int]int, len(weights))
	assigned := 0
	for _, w := range weights {
		share := inv[w] / shareSum
		n := int(math.Round(float64(limit) * share))
		if n < 1 {
			n = 1
		}
		if n > len(buckets[w]) {
			n = len(buckets[w])
		}
		alloc[w] = n
		assigned += n
	}

	// Redistribute any shortfall/excess against the limit, favoring the
	// most urgent bucket with remaining capacity.
	for assigned < limit {
		grew := false
		for _, w := range weights {
			if alloc[w] < len(buckets[w]) {
				alloc[w]++
				assigned++
				grew = true
				if assigned >= limit {
					break
				}
			}
		}
		if !grew {
			break
		}
	}
	for assigned > limit {
		shrunk := false
		for i := len(weights) - 1; i >= 0; i-- {
			w := weights[i]
			if alloc[w] > 1 {
				alloc[w]--
				assigned--
				shrunk = true
				if assigned <= limit {
					break
				}
			}
		}
		if !shrunk {
			break
		}
	}

	return alloc
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
