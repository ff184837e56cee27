package chunker

import (
	"errors"
	"fmt"
	"strings"

	"docchat/internal/domain"
)

// separatorLevels lists break points from most to least preferred. A hard
// character cut is used when no level applies.
var separatorLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

var ErrInvalidConfig = errors.New("invalid chunker config")

// RecursiveChunker splits text into overlapping segments of at most size
// characters (runes), preferring paragraph, line, sentence and word breaks
// in that order.
type RecursiveChunker struct {
	size      int
	overlap   int
	maxChunks int
}

func NewRecursiveChunker(size, overlap, maxChunks int) (*RecursiveChunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size || maxChunks <= 0 {
		return nil, fmt.Errorf("%w: size=%d overlap=%d max_chunks=%d", ErrInvalidConfig, size, overlap, maxChunks)
	}
	return &RecursiveChunker{size: size, overlap: overlap, maxChunks: maxChunks}, nil
}

func (c *RecursiveChunker) Chunk(text string) (domain.ChunkSet, error) {
	return Split(text, c.size, c.overlap, c.maxChunks)
}

// Split cuts text into segments of at most size runes. Each segment after the
// first starts with the last overlap runes of its predecessor. When more than
// maxChunks segments would be produced the result is cut short and flagged
// Truncated. Empty or whitespace-only text yields no segments.
func Split(text string, size, overlap, maxChunks int) (domain.ChunkSet, error) {
	if size <= 0 || overlap < 0 || overlap >= size || maxChunks <= 0 {
		return domain.ChunkSet{}, fmt.Errorf("%w: size=%d overlap=%d max_chunks=%d", ErrInvalidConfig, size, overlap, maxChunks)
	}
	if strings.TrimSpace(text) == "" {
		return domain.ChunkSet{}, nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return domain.ChunkSet{Segments: []domain.Segment{{ID: 0, Text: text}}}, nil
	}

	var set domain.ChunkSet
	start := 0
	for start < len(runes) {
		if len(set.Segments) == maxChunks {
			set.Truncated = true
			break
		}
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start+overlap+1, end)
		}
		set.Segments = append(set.Segments, domain.Segment{
			ID:   len(set.Segments),
			Text: string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return set, nil
}

// breakPoint returns the cut position in (lo-1, hi] that ends right after
// the most preferred separator, or hi for a hard cut. Cutting no earlier than
// lo keeps the next segment's start strictly ahead of the current one.
func breakPoint(runes []rune, lo, hi int) int {
	if lo > hi {
		return hi
	}
	window := string(runes[lo:hi])
	for _, level := range separatorLevels {
		best := -1
		for _, sep := range level {
			i := strings.LastIndex(window, sep)
			if i < 0 {
				continue
			}
			// convert byte offset of the separator end to a rune offset
			cut := lo + len([]rune(window[:i+len(sep)]))
			if cut > best {
				best = cut
			}
		}
		if best > 0 {
			return best
		}
	}
	return hi
}
