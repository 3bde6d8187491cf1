// Package chunker splits long text into provider-sized pieces.
//
// Splits prefer sentence boundaries, then word boundaries, and fall back to a
// hard cut so that every chunk fits the provider's request limit. Lengths and
// offsets are measured in runes, so multi-byte text is never cut in the middle
// of a character.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TextChunk is one contiguous slice of the source text.
type TextChunk struct {
	// Index is the 0-based position of the chunk. Indices are contiguous.
	Index int `json:"index"`

	// Text is the trimmed chunk content.
	Text string `json:"text"`

	// StartChar and EndChar are the rune offsets of the untrimmed window in the
	// source text. EndChar is exclusive.
	StartChar int `json:"startChar"`
	EndChar   int `json:"endChar"`
}

// sentenceEnd matches a terminator followed by whitespace, or a run of line
// breaks. A split happens right after the match.
var sentenceEnd = regexp.MustCompile(`[.?!]\s+|[\n\r]+`)

// Chunk splits text into chunks of at most maxLength runes.
//
// Text that already fits is returned as a single untrimmed chunk, including
// empty text. A maxLength of zero or less disables splitting.
func Chunk(text string, maxLength int) []TextChunk {
	n := utf8.RuneCountInString(text)
	if maxLength <= 0 || n <= maxLength {
		return []TextChunk{{Index: 0, Text: text, StartChar: 0, EndChar: n}}
	}

	runes := []rune(text)
	var chunks []TextChunk
	pos := 0
	for pos < n {
		end := pos + maxLength
		split := n
		if end < n {
			split = splitPoint(runes, pos, end)
		}

		if t := strings.TrimSpace(string(runes[pos:split])); t != "" {
			chunks = append(chunks, TextChunk{
				Index:     len(chunks),
				Text:      t,
				StartChar: pos,
				EndChar:   split,
			})
		}
		pos = split
	}
	return chunks
}

// splitPoint picks where the window runes[pos:end] ends. The result is always
// greater than pos.
func splitPoint(runes []rune, pos, end int) int {
	window := string(runes[pos:end])
	if locs := sentenceEnd.FindAllStringIndex(window, -1); len(locs) > 0 {
		last := locs[len(locs)-1][1]
		if split := pos + utf8.RuneCountInString(window[:last]); split > pos {
			return split
		}
	}

	// A space sitting exactly at end still counts; the chunk then carries one
	// trailing space that trimming removes.
	for i := end; i > pos; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}

// Split partitions chunks into consecutive batches of at most size chunks.
// A size of zero or less puts every chunk in one batch.
func Split(chunks []TextChunk, size int) [][]TextChunk {
	if len(chunks) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(chunks)
	}
	batches := make([][]TextChunk, 0, (len(chunks)+size-1)/size)
	for start := 0; start < len(chunks); start += size {
		batches = append(batches, chunks[start:min(start+size, len(chunks))])
	}
	return batches
}
