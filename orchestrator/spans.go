package orchestrator

import (
	"github.com/llmc-dev/rag-core/slicer"
	"github.com/llmc-dev/rag-core/store"
)

// buildSpanInputs converts slicer output into store.SpanInput rows,
// resolving each span's parent as the smallest other span in the same
// file whose byte range strictly contains it (e.g. a method nested in a
// class) — the relationship GraphNeighbors walks for graph expansion.
func buildSpanInputs(spans []slicer.Span, content []byte, weight int) []store.SpanInput {
	inputs := make([]store.SpanInput, len(spans))
	for i, sp := range spans {
		inputs[i] = store.SpanInput{
			Hash:        sp.Hash,
			Content:     string(content[sp.ByteStart:sp.ByteEnd]),
			SliceType:   string(sp.Type),
			SubLanguage: sp.SubLanguage,
			ByteStart:   sp.ByteStart,
			ByteEnd:     sp.ByteEnd,
			LineStart:   sp.LineStart,
			LineEnd:     sp.LineEnd,
			Confidence:  sp.Confidence,
			PathWeight:  weight,
		}
	}

	for i, sp := range spans {
		bestIdx := -1
		bestLen := -1
		for j, other := range spans {
			if i == j {
				continue
			}
			if other.ByteStart <= sp.ByteStart && sp.ByteEnd <= other.ByteEnd && other.ByteEnd-other.ByteStart > sp.ByteEnd-sp.ByteStart {
				length := other.ByteEnd - other.ByteStart
				if bestIdx == -1 || length < bestLen {
					bestIdx = j
					bestLen = length
				}
			}
		}
		if bestIdx != -1 {
			inputs[i].ParentHash = spans[bestIdx].Hash
		}
	}

	return inputs
}
