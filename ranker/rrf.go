package ranker

const rrfK = 60

// FusedInfo records which methods contributed to a fused candidate, at what
// rank, and with what native score, mirroring the retrieval trace the spec
// asks for in diagnostics.
type FusedInfo struct {
	Methods      []string
	LexRank      int
	VecRank      int
	GraphRank    int
	LexicalScore float64
	VectorScore  float64
	GraphHops    int
}

// scoredCandidate is a Candidate carrying its fused RRF score and the
// methods that contributed to it.
type scoredCandidate struct {
	Candidate
	score float64
	info  FusedInfo
}

// fuseRRF combines up to three independently ranked candidate lists with
// Reciprocal Rank Fusion: score = sum(1 / (k + rank)) across methods a
// candidate appears in. Candidates are keyed by SpanID.
func fuseRRF(lexical, vector, graph []Candidate) map[string]scoredCandidate {
	fused := make(map[string]scoredCandidate)

	add := func(list []Candidate, method string, apply func(*FusedInfo, Candidate, int)) {
		for rank, c := range list {
			sc, ok := fused[c.SpanID]
			if !ok {
				sc = scoredCandidate{Candidate: c}
			}
			sc.score += 1.0 / float64(rrfK+rank+1)
			sc.info.Methods = append(sc.info.Methods, method)
			apply(&sc.info, c, rank+1)
			fused[c.SpanID] = sc
		}
	}

	add(lexical, "lexical", func(fi *FusedInfo, c Candidate, rank int) {
		fi.LexRank = rank
		fi.LexicalScore = c.RawScore
	})
	add(vector, "vector", func(fi *FusedInfo, c Candidate, rank int) {
		fi.VecRank = rank
		fi.VectorScore = c.RawScore
	})
	add(graph, "graph", func(fi *FusedInfo, c Candidate, rank int) {
		fi.GraphRank = rank
		fi.GraphHops = 1
	})

	return fused
}

// rankByScore flattens the fused map into a slice sorted by score
// descending, breaking ties by SpanID for determinism.
func rankByScore(fused map[string]scoredCandidate) []scoredCandidate {
	out := make([]scoredCandidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, c)
	}
	sortByScoreDesc(out)
	return out
}

func sortByScoreDesc(cs []scoredCandidate) {
	// insertion sort is fine: candidate pools are bounded (LexicalK+VectorK),
	// never large enough to need anything fancier.
	for i := 1; i < len(cs); i++ {
		j := i
		for j > 0 && less(cs[j-1], cs[j]) {
			cs[j-1], cs[j] = cs[j], cs[j-1]
			j--
		}
	}
}

// less reports whether a should sort after b (a has lower priority).
func less(a, b scoredCandidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.SpanID > b.SpanID
}
