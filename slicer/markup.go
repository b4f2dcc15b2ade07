package slicer

import (
	"regexp"
	"strings"
)

// markupHeadingPatterns mirror the heading styles recognised across the
// markup formats this strategy handles: markdown, plus the numbered and
// all-caps conventions found in plain-text docs and READMEs.
var markupHeadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,6}\s+\S`),
	regexp.MustCompile(`^\s*(\d+\.)+(\d+)?\s+\S`),
	regexp.MustCompile(`^[A-Z][A-Z\s]{4,}$`),
}

func isMarkupHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range markupHeadingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// MarkupStrategy slices markup files into heading-bounded sections: each
// span is a heading plus its body, up to the next heading of any depth
// (a subheading starts its own span). Sections longer than Config.MaxMarkupLines are split at
// paragraph boundaries (blank lines) to keep spans embeddable.
type MarkupStrategy struct{}

// Slice implements Strategy.
func (MarkupStrategy) Slice(path string, content []byte, cfg Config) []Span {
	lines := splitLinesKeepOffsets(content)
	if len(lines) == 0 {
		return nil
	}

	type section struct {
		startLine int
		endLine   int // exclusive
	}
	var sections []section
	start := 0
	for i := 1; i < len(lines); i++ {
		if isMarkupHeading(lines[i].text) {
			sections = append(sections, section{startLine: start, endLine: i})
			start = i
		}
	}
	sections = append(sections, section{startLine: start, endLine: len(lines)})

	maxLines := cfg.MaxMarkupLines
	if maxLines <= 0 {
		maxLines = 400
	}

	var spans []Span
	for _, sec := range sections {
		n := sec.endLine - sec.startLine
		if n <= maxLines {
			spans = append(spans, sectionSpan(lines, sec.startLine, sec.endLine))
			continue
		}
		for _, sub := range splitAtParagraphBoundaries(lines, sec.startLine, sec.endLine, maxLines) {
			spans = append(spans, sectionSpan(lines, sub.startLine, sub.endLine))
		}
	}
	return spans
}

func sectionSpan(lines []lineOffset, startLine, endLine int) Span {
	byteStart := lines[startLine].start
	var byteEnd int
	if endLine < len(lines) {
		byteEnd = lines[endLine].start
	} else {
		byteEnd = lines[len(lines)-1].end
	}
	return Span{
		ByteStart:  byteStart,
		ByteEnd:    byteEnd,
		LineStart:  startLine + 1,
		LineEnd:    endLine,
		Type:       SliceSection,
		Confidence: 1.0,
	}
}

type subrange struct{ startLine, endLine int }

// splitAtParagraphBoundaries breaks [startLine, endLine) into chunks no
// larger than maxLines, preferring to cut on blank lines.
func splitAtParagraphBoundaries(lines []lineOffset, startLine, endLine, maxLines int) []subrange {
	var out []subrange
	cur := startLine
	for cur < endLine {
		limit := cur + maxLines
		if limit >= endLine {
			out = append(out, subrange{cur, endLine})
			break
		}
		cut := limit
		for i := limit; i > cur; i-- {
			if strings.TrimSpace(lines[i].text) == "" {
				cut = i
				break
			}
		}
		if cut == cur {
			cut = limit
		}
		out = append(out, subrange{cur, cut})
		cur = cut
	}
	return out
}

type lineOffset struct {
	text       string
	start, end int
}

// splitLinesKeepOffsets splits content into lines while recording each
// line's byte offsets (including its trailing newline) so spans can be
// expressed as byte ranges.
func splitLinesKeepOffsets(content []byte) []lineOffset {
	var lines []lineOffset
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			lines = append(lines, lineOffset{text: string(content[start:i]), start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(content) {
		lines = append(lines, lineOffset{text: string(content[start:]), start: start, end: len(content)})
	}
	return lines
}
