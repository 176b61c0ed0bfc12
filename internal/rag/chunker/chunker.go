package chunker

import (
	"fmt"
	"iter"
)

// Chunk is one bounded, overlapping text window cut from a source
// document. Offsets are rune positions into the original text.
type Chunk struct {
	Text  string
	Start int
	End   int
	Index int
}

type Chunker struct {
	chunkSize int
	overlap   int
}

// New validates the window configuration: size must be positive and the
// overlap strictly smaller than the size, otherwise adjacent windows could
// never advance.
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must be non-negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// Split yields the chunk sequence lazily; ranging over it again restarts
// from the first chunk. Every character of text is covered by at least one
// chunk, each chunk spans at most chunkSize runes, and chunk i+1 starts
// exactly overlap runes before chunk i ends, except when that rewind would
// reach back into chunk i's own start. The cut point
// prefers, in order: paragraph break, line break, sentence terminator,
// clause comma, raw cut. The final chunk may be shorter than chunkSize.
func (c *Chunker) Split(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		if len(runes) == 0 {
			return
		}
		start := 0
		index := 0
		for start < len(runes) {
			end := start + c.chunkSize
			if end >= len(runes) {
				end = len(runes)
			} else {
				end = cutPoint(runes, start, end)
			}
			if !yield(Chunk{
				Text:  string(runes[start:end]),
				Start: start,
				End:   end,
				Index: index,
			}) {
				return
			}
			if end >= len(runes) {
				return
			}
			next := end - c.overlap
			if next <= start {
				// A boundary piece shorter than the overlap would rewind
				// into its own window; skip the overlap for that step.
				next = end
			}
			start = next
			index++
		}
	}
}

// SplitAll collects the full chunk sequence.
func (c *Chunker) SplitAll(text string) []Chunk {
	var out []Chunk
	for chunk := range c.Split(text) {
		out = append(out, chunk)
	}
	return out
}

// cutPoint picks the end of the window [start, limit) at the largest
// natural boundary available, falling back to a raw cut at limit. A
// boundary is only taken when it leaves a non-empty piece.
func cutPoint(runes []rune, start, limit int) int {
	if end := lastParagraphBreak(runes, start, limit); end > start {
		return end
	}
	if end := lastLineBreak(runes, start, limit); end > start {
		return end
	}
	if end := lastSentenceEnd(runes, start, limit); end > start {
		return end
	}
	if end := lastClauseComma(runes, start, limit); end > start {
		return end
	}
	return limit
}

func lastParagraphBreak(runes []rune, start, limit int) int {
	for i := limit - 1; i > start; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	return start
}

func lastLineBreak(runes []rune, start, limit int) int {
	for i := limit - 1; i >= start; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	return start
}

func lastSentenceEnd(runes []rune, start, limit int) int {
	for i := limit - 1; i >= start; i-- {
		switch runes[i] {
		case '.', '!', '?':
			// Terminator must close the window or be followed by space to
			// avoid cutting decimals and abbreviations mid-token.
			if i+1 >= limit || runes[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return start
}

func lastClauseComma(runes []rune, start, limit int) int {
	for i := limit - 1; i >= start; i-- {
		if runes[i] == ',' {
			return i + 1
		}
	}
	return start
}
