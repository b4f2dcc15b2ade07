package slicer

// GenericStrategy slices any file type into fixed-size overlapping byte
// windows. It is the fallback for files with no registered code or markup
// strategy, and the tie-break loser against any syntactically-bounded span
// that covers the same range.
type GenericStrategy struct{}

// Slice implements Strategy.
func (GenericStrategy) Slice(path string, content []byte, cfg Config) []Span {
	size := cfg.WindowSize
	if size <= 0 {
		size = 2000
	}
	overlap := cfg.WindowOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	if len(content) == 0 {
		return nil
	}

	step := size - overlap
	var spans []Span
	for start := 0; start < len(content); start += step {
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		spans = append(spans, Span{
			ByteStart:  start,
			ByteEnd:    end,
			LineStart:  countLines(content[:start]) + 1,
			LineEnd:    countLines(content[:end]) + 1,
			Type:       SliceGeneric,
			Confidence: 1.0,
		})
		if end == len(content) {
			break
		}
	}
	return spans
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
