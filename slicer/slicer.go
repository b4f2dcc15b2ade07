// Package slicer turns a file's bytes into an ordered sequence of Spans
// with stable content-derived hashes, per spec component C2.
package slicer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"unicode/utf8"
)

// SliceType is the detected kind of a Span.
type SliceType string

const (
	SliceFunction SliceType = "function"
	SliceClass    SliceType = "class"
	SliceSection  SliceType = "section"
	SliceGeneric  SliceType = "generic"
)

// Span is a contiguous byte range of a file representing one coherent unit.
type Span struct {
	Path         string
	ByteStart    int
	ByteEnd      int
	LineStart    int
	LineEnd      int
	Type         SliceType
	SubLanguage  string
	Confidence   float64
	Hash         string // SpanHash, set by Hash() once content is known
	DropReason   string // set when a span is dropped (e.g. failed clean-text check)
}

// Config controls slicing behaviour across all strategies.
type Config struct {
	// MaxMarkupLines bounds a markup section before it is split at
	// paragraph boundaries.
	MaxMarkupLines int
	// WindowSize and WindowOverlap control the generic fixed-window
	// strategy used for unknown file types, in bytes.
	WindowSize    int
	WindowOverlap int
	// EnforceCleanText drops spans that fail the UTF-8/latin-1
	// cleanliness check (spec §4.2).
	EnforceCleanText bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMarkupLines:   400,
		WindowSize:       2000,
		WindowOverlap:    200,
		EnforceCleanText: true,
	}
}

// Strategy produces spans for one class of file (code, markup, generic).
type Strategy interface {
	// Slice returns spans for the given file content, ordered by starting
	// byte. It never loads more than a bounded window of surrounding
	// context into memory at once for any single span.
	Slice(path string, content []byte, cfg Config) []Span
}

// Slicer dispatches to a Strategy based on detected language and produces
// the final, hashed, ordered span sequence for a file.
type Slicer struct {
	cfg         Config
	codeByLang  map[string]Strategy
	markup      Strategy
	generic     Strategy
}

// New creates a Slicer with the code, markup, and generic strategies wired
// in. codeByLang maps a language tag (as produced by the caller's language
// detector) to the strategy responsible for it.
func New(cfg Config, codeByLang map[string]Strategy, markup, generic Strategy) *Slicer {
	if codeByLang == nil {
		codeByLang = map[string]Strategy{}
	}
	return &Slicer{cfg: cfg, codeByLang: codeByLang, markup: markup, generic: generic}
}

// Slice turns file bytes into an ordered, hashed sequence of spans.
// Language selects a code strategy if registered; markup files (language
// == "markdown") use the markup strategy; everything else falls back to
// the generic fixed-window strategy. Spans that fail the cleanliness check
// (when enabled) are left out of spans and returned in dropped, each with
// its DropReason set.
func (s *Slicer) Slice(path string, content []byte, language string) (spans []Span, dropped []Span) {
	var strat Strategy
	switch {
	case language == "markdown" || language == "md":
		strat = s.markup
	default:
		if cs, ok := s.codeByLang[language]; ok {
			strat = cs
		} else {
			strat = s.generic
		}
	}
	if strat == nil {
		strat = s.generic
	}

	raw := strat.Slice(path, content, s.cfg)
	raw = preferSmallerBoundedSpans(raw)

	for i := range raw {
		sp := raw[i]
		sp.Path = path
		body := content[sp.ByteStart:sp.ByteEnd]
		if s.cfg.EnforceCleanText && !isCleanText(body) {
			sp.DropReason = "binary or invalid text encoding"
			dropped = append(dropped, sp)
			continue
		}
		sp.Hash = Hash(body, sp.Type, sp.SubLanguage)
		spans = append(spans, sp)
	}
	return spans, dropped
}

// Hash computes the SpanHash: a stable digest over normalized content bytes,
// the slice type tag, and the sub-language tag. Normalization strips
// trailing whitespace per line and collapses line endings so cosmetic
// changes do not invalidate embeddings (spec §4.2).
func Hash(content []byte, sliceType SliceType, subLanguage string) string {
	normalized := normalize(content)
	h := sha256.New()
	h.Write(normalized)
	h.Write([]byte{0})
	h.Write([]byte(sliceType))
	h.Write([]byte{0})
	h.Write([]byte(subLanguage))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(content []byte) []byte {
	// Collapse CRLF/CR to LF, then strip trailing whitespace per line.
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	content = bytes.ReplaceAll(content, []byte("\r"), []byte("\n"))
	lines := bytes.Split(content, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t")
	}
	return bytes.Join(lines, []byte("\n"))
}

// isCleanText reports whether content is valid UTF-8 or plausible latin-1
// text with no embedded NUL bytes — a cheap guard against binary garbage
// poisoning the vector store.
func isCleanText(content []byte) bool {
	if bytes.IndexByte(content, 0) >= 0 {
		return false
	}
	if utf8.Valid(content) {
		return true
	}
	// latin-1 is a superset of all single-byte values, so any non-UTF-8
	// byte sequence with no NUL is still "clean" under a latin-1 reading;
	// the remaining risk is genuinely binary data, which tends to contain
	// long runs of non-printable control bytes.
	controlRun := 0
	for _, b := range content {
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			controlRun++
			if controlRun > 8 {
				return false
			}
		} else {
			controlRun = 0
		}
	}
	return true
}

// preferSmallerBoundedSpans implements the slicer's tie-break rule: when
// spans overlap, prefer smaller, syntactically-bounded spans (function,
// class, section) over larger generic windows. Output stays ordered by
// starting byte.
func preferSmallerBoundedSpans(spans []Span) []Span {
	if len(spans) < 2 {
		return spans
	}
	kept := make([]Span, 0, len(spans))
	for _, sp := range spans {
		overridden := false
		for j := range kept {
			if overlaps(kept[j], sp) {
				if shouldReplace(kept[j], sp) {
					kept[j] = sp
				}
				overridden = true
				break
			}
		}
		if !overridden {
			kept = append(kept, sp)
		}
	}
	return kept
}

func overlaps(a, b Span) bool {
	return a.ByteStart < b.ByteEnd && b.ByteStart < a.ByteEnd
}

// shouldReplace reports whether candidate should replace incumbent when
// both cover the same byte range: syntactically-bounded, smaller spans win
// over larger generic windows.
func shouldReplace(incumbent, candidate Span) bool {
	incumbentBounded := incumbent.Type != SliceGeneric
	candidateBounded := candidate.Type != SliceGeneric
	if candidateBounded != incumbentBounded {
		return candidateBounded
	}
	candidateLen := candidate.ByteEnd - candidate.ByteStart
	incumbentLen := incumbent.ByteEnd - incumbent.ByteStart
	return candidateLen < incumbentLen
}
