package indexer

import (
	"math"
	"unicode"

	"github.com/hyperjump/hondana/internal/config"
)

// Segment is one chunk of a chapter. Start and End are byte offsets into the
// text given to Chunk.
type Segment struct {
	Index int
	Start int
	End   int
	Text  string
}

type breakKind int

const (
	breakWord breakKind = iota
	breakSentence
	breakParagraph
)

type boundary struct {
	pos  int // rune index where the next unit begins
	kind breakKind
}

// Chunker splits text into bounded, overlapping segments aligned to paragraph,
// sentence or word boundaries. It is pure: the same text and settings always give
// the same segments.
type Chunker struct {
	maxChars     int
	overlapChars int
}

// NewChunker creates a chunker with a budget of maxChars characters per segment and an
// overlap expressed as a fraction of that budget.
func NewChunker(maxChars int, overlap float64) *Chunker {
	if maxChars <= 0 {
		maxChars = 2000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > config.MaxChunkOverlap {
		overlap = config.MaxChunkOverlap
	}
	return &Chunker{
		maxChars:     maxChars,
		overlapChars: int(math.Round(float64(maxChars) * overlap)),
	}
}

// MaxChars returns the per-segment character budget.
func (c *Chunker) MaxChars() int { return c.maxChars }

// OverlapChars returns the overlap budget in characters.
func (c *Chunker) OverlapChars() int { return c.overlapChars }

// Chunk splits text into segments. Whitespace-only text yields nil.
func (c *Chunker) Chunk(text string) []Segment {
	runes := []rune(text)
	if isBlank(runes) {
		return nil
	}
	n := len(runes)
	byteOff := make([]int, n+1)
	for i, r := range runes {
		byteOff[i+1] = byteOff[i] + len(string(r))
	}
	bounds := findBoundaries(runes)

	var segments []Segment
	start := 0
	for start < n {
		end := c.segmentEnd(bounds, start, n)
		if !isBlank(runes[start:end]) {
			segments = append(segments, Segment{
				Index: len(segments),
				Start: byteOff[start],
				End:   byteOff[end],
				Text:  string(runes[start:end]),
			})
		}
		if end >= n {
			break
		}
		start = c.nextStart(bounds, runes, start, end)
	}
	return segments
}

// segmentEnd picks where a segment starting at start ends: the whole remainder when it
// fits, else the best boundary inside the budget, else a hard cut.
func (c *Chunker) segmentEnd(bounds []boundary, start, n int) int {
	limit := start + c.maxChars
	if limit >= n {
		return n
	}
	// Paragraph breaks win once the segment is at least half full.
	half := start + c.maxChars/2
	if p := lastBoundary(bounds, half, limit, breakParagraph); p > 0 {
		return p
	}
	if p := lastBoundary(bounds, start+1, limit, breakSentence); p > 0 {
		return p
	}
	if p := lastBoundary(bounds, start+1, limit, breakWord); p > 0 {
		return p
	}
	return limit
}

// nextStart backs off from end by at most the overlap budget, preferring the earliest
// sentence start in that window, then the earliest word start. The result is always
// greater than start so segmentation makes progress.
func (c *Chunker) nextStart(bounds []boundary, runes []rune, start, end int) int {
	if c.overlapChars == 0 {
		return end
	}
	lo := end - c.overlapChars
	if lo <= start {
		lo = start + 1
	}
	if lo >= end {
		return end
	}
	if p := firstBoundary(bounds, lo, end-1, breakSentence); p > 0 {
		return p
	}
	if p := firstBoundary(bounds, lo, end-1, breakWord); p > 0 {
		return p
	}
	// No word boundary in the window: the overlap lands mid-word.
	for lo < end && unicode.IsSpace(runes[lo]) {
		lo++
	}
	return lo
}

// lastBoundary returns the greatest boundary position in [lo, hi] of at least kind, or -1.
func lastBoundary(bounds []boundary, lo, hi int, kind breakKind) int {
	for i := len(bounds) - 1; i >= 0; i-- {
		b := bounds[i]
		if b.pos > hi {
			continue
		}
		if b.pos < lo {
			break
		}
		if b.kind >= kind {
			return b.pos
		}
	}
	return -1
}

// firstBoundary returns the smallest boundary position in [lo, hi] of at least kind, or -1.
func firstBoundary(bounds []boundary, lo, hi int, kind breakKind) int {
	for _, b := range bounds {
		if b.pos < lo {
			continue
		}
		if b.pos > hi {
			break
		}
		if b.kind >= kind {
			return b.pos
		}
	}
	return -1
}

// findBoundaries lists, in order, every position where a word, sentence or paragraph
// begins after some whitespace (or directly after a CJK full stop).
func findBoundaries(runes []rune) []boundary {
	var bounds []boundary
	n := len(runes)
	for i := 0; i < n; {
		r := runes[i]
		if unicode.IsSpace(r) {
			j := i
			newlines := 0
			for j < n && unicode.IsSpace(runes[j]) {
				if runes[j] == '\n' {
					newlines++
				}
				j++
			}
			if i > 0 && j < n {
				kind := breakWord
				switch {
				case newlines >= 2:
					kind = breakParagraph
				case endsSentence(runes[:i]):
					kind = breakSentence
				}
				bounds = append(bounds, boundary{pos: j, kind: kind})
			}
			i = j
			continue
		}
		if isFullWidthStop(r) && i+1 < n && !unicode.IsSpace(runes[i+1]) {
			bounds = append(bounds, boundary{pos: i + 1, kind: breakSentence})
		}
		i++
	}
	return bounds
}

// endsSentence reports whether prefix ends with a sentence terminator, allowing
// closing quotes and brackets after it.
func endsSentence(prefix []rune) bool {
	for i := len(prefix) - 1; i >= 0; i-- {
		switch r := prefix[i]; r {
		case '"', '\'', ')', ']', '”', '’', '»', '」', '』':
			continue
		case '.', '!', '?', '…':
			return true
		default:
			return isFullWidthStop(r)
		}
	}
	return false
}

func isFullWidthStop(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isBlank(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
