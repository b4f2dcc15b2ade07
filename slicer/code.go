package slicer

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
)

// DefinitionKinds maps a tree-sitter node type name (as produced by a given
// grammar) to the SliceType it represents. Every language strategy supplies
// its own table, since grammars name their nodes differently.
type DefinitionKinds map[string]SliceType

// CodeStrategy slices source files using a tree-sitter grammar: one span per
// top-level definition node (function, method, class, struct, ...), plus
// one generic span per contiguous run of top-level content that falls
// between definitions (imports, package-level constants, stray statements).
// If the parse fails or produces a syntax-error tree, Slice degrades to the
// generic fixed-window strategy rather than aborting the file.
type CodeStrategy struct {
	Language    *sitter.Language
	SubLanguage string
	Kinds       DefinitionKinds
}

// Slice implements Strategy.
func (c CodeStrategy) Slice(path string, content []byte, cfg Config) []Span {
	if c.Language == nil {
		return GenericStrategy{}.Slice(path, content, cfg)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(c.Language)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree == nil {
		return GenericStrategy{}.Slice(path, content, cfg)
	}
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return GenericStrategy{}.Slice(path, content, cfg)
	}

	var spans []Span
	lastEnd := 0
	n := int(root.ChildCount())
	for i := 0; i < n; i++ {
		child := root.Child(i)
		if child == nil {
			continue
		}
		kind, ok := c.Kinds[child.Type()]
		if !ok {
			continue
		}
		start := int(child.StartByte())
		end := int(child.EndByte())
		if start > lastEnd {
			spans = append(spans, Span{
				ByteStart:   lastEnd,
				ByteEnd:     start,
				Type:        SliceGeneric,
				SubLanguage: c.SubLanguage,
				Confidence:  1.0,
			})
		}
		spans = append(spans, Span{
			ByteStart:   start,
			ByteEnd:     end,
			Type:        kind,
			SubLanguage: c.SubLanguage,
			Confidence:  1.0,
		})
		lastEnd = end
	}
	if lastEnd < len(content) {
		spans = append(spans, Span{
			ByteStart:   lastEnd,
			ByteEnd:     len(content),
			Type:        SliceGeneric,
			SubLanguage: c.SubLanguage,
			Confidence:  1.0,
		})
	}

	fillLines(content, spans)
	return spans
}

// fillLines back-fills LineStart/LineEnd for spans produced from byte
// offsets, since tree-sitter nodes expose points but we key purely on
// bytes to stay grammar-agnostic.
func fillLines(content []byte, spans []Span) {
	// Precompute line-start byte offsets once.
	starts := []int{0}
	for i, b := range content {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	lineAt := func(off int) int {
		lo, hi := 0, len(starts)-1
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if starts[mid] <= off {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		return lo + 1
	}
	for i := range spans {
		spans[i].LineStart = lineAt(spans[i].ByteStart)
		spans[i].LineEnd = lineAt(spans[i].ByteEnd)
	}
}
