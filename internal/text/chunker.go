package text

import (
	"errors"
	"strings"
	"unicode"
)

var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Chunker splits extracted text into bounded, overlapping spans.
// Lengths are counted in Unicode code points.
type Chunker struct {
	MaxChars int
	Overlap  int
	// Lookback bounds how far before the hard limit a natural break is searched for.
	// Zero means the whole window.
	Lookback int
}

func NewChunker(maxChars, overlap, lookback int) Chunker {
	return Chunker{MaxChars: maxChars, Overlap: overlap, Lookback: lookback}
}

// Chunk splits text with a lookback spanning the whole window.
func Chunk(text string, maxChunkChars, overlapChars int) []string {
	return NewChunker(maxChunkChars, overlapChars, 0).Split(text)
}

func (c Chunker) Validate() error {
	if c.MaxChars <= 0 {
		return ErrInvalidChunking
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return ErrInvalidChunking
	}
	if c.Lookback < 0 {
		return ErrInvalidChunking
	}
	return nil
}

func (c Chunker) normalized() Chunker {
	if c.MaxChars <= 0 {
		c.MaxChars = 1
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.MaxChars {
		c.Overlap = c.MaxChars - 1
	}
	if c.Lookback <= 0 || c.Lookback > c.MaxChars {
		c.Lookback = c.MaxChars
	}
	return c
}

// Split is deterministic: equal input and parameters give equal spans in equal order.
// Whitespace-only input yields no spans.
func (c Chunker) Split(text string) []string {
	c = c.normalized()
	runes := []rune(text)
	n := len(runes)

	var chunks []string
	start, prevEnd := 0, 0
	for start < n {
		end := start + c.MaxChars
		if end >= n {
			end = n
		} else if b := c.breakPoint(runes, start, end, prevEnd); b > start {
			end = b
		}

		if span := strings.TrimSpace(string(runes[start:end])); span != "" {
			chunks = append(chunks, span)
		}
		if end >= n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start, prevEnd = next, end
	}
	return chunks
}

// breakPoint returns the exclusive end of the span [start, end) shortened to the
// nearest paragraph boundary, else sentence boundary, inside the lookback window.
// Both characters that make up a boundary must lie inside the window. The span
// must also reach past the first non-space rune after prevEnd, so a break never
// yields a span made only of the overlap carried from the previous one. -1 means none.
func (c Chunker) breakPoint(runes []rune, start, end, prevEnd int) int {
	fresh := prevEnd
	for fresh < end && unicode.IsSpace(runes[fresh]) {
		fresh++
	}
	floor := max(end-c.Lookback, start+1, fresh+1)

	for i := end - 2; i >= floor; i-- {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			return i
		}
	}

	for i := end - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) && isSentenceEnd(runes[i-1]) {
			return i
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// WordCount is the whitespace separated token count stored alongside each chunk.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
