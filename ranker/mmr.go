package ranker

// mmrSelect trims ranked (already sorted best-first by fused score) down to
// a total Content size of budget characters using Maximal Marginal
// Relevance: at each step, pick the candidate maximizing
// lambda*relevance - (1-lambda)*max_similarity to anything already selected,
// where similarity is Jaccard over identifier sets. This keeps
// near-duplicate spans (e.g. overlapping windows of the same function) from
// crowding out distinct results. At least one candidate is always returned
// when ranked is non-empty, even if it alone exceeds budget.
func mmrSelect(ranked []scoredCandidate, budget int, lambda float64) []scoredCandidate {
	if len(ranked) == 0 {
		return ranked
	}
	if budget <= 0 || totalContentSize(ranked) <= budget {
		return ranked
	}
	if lambda <= 0 {
		lambda = 0.7
	}

	maxScore := 0.0
	for _, c := range ranked {
		if c.score > maxScore {
			maxScore = c.score
		}
	}
	relevance := func(c scoredCandidate) float64 {
		if maxScore == 0 {
			return 0
		}
		return c.score / maxScore
	}

	remaining := append([]scoredCandidate(nil), ranked...)
	var selected []scoredCandidate
	used := 0

	for len(remaining) > 0 {
		bestIdx := 0
		bestMMR := -1.0
		for i, cand := range remaining {
			sim := 0.0
			for _, s := range selected {
				if j := jaccard(cand.Identifiers, s.Identifiers); j > sim {
					sim = j
				}
			}
			mmr := lambda*relevance(cand) - (1-lambda)*sim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}
		picked := remaining[bestIdx]
		if len(selected) > 0 && used+len(picked.Content) > budget {
			break
		}
		selected = append(selected, picked)
		used += len(picked.Content)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func totalContentSize(cs []scoredCandidate) int {
	total := 0
	for _, c := range cs {
		total += len(c.Content)
	}
	return total
}

// jaccard computes the Jaccard similarity of two identifier sets.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, x := range a {
		set[x] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, y := range b {
		seen[y] = struct{}{}
		if _, ok := set[y]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// normalizeScores rescales fused scores to 0-100 (min-max over the
// surviving set) and converts to the public Result type.
func normalizeScores(cs []scoredCandidate) []Result {
	if len(cs) == 0 {
		return nil
	}
	min, max := cs[0].score, cs[0].score
	for _, c := range cs {
		if c.score < min {
			min = c.score
		}
		if c.score > max {
			max = c.score
		}
	}
	spread := max - min

	out := make([]Result, len(cs))
	for i, c := range cs {
		var norm float64
		if spread == 0 {
			norm = 100
		} else {
			norm = (c.score - min) / spread * 100
		}
		out[i] = Result{
			SpanID:       c.SpanID,
			FilePath:     c.FilePath,
			Content:      c.Content,
			LineStart:    c.LineStart,
			LineEnd:      c.LineEnd,
			Score:        norm,
			LexicalScore: c.info.LexicalScore,
			VectorScore:  c.info.VectorScore,
			Summary:      c.Summary,
			GraphHops:    c.info.GraphHops,
			Methods:      c.info.Methods,
		}
	}
	return out
}
