package chunker

import (
	"reflect"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func texts(chunks []TextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestChunk_ShortTextIsSingleChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
	}{
		{"shorter", "Hello world.", 100},
		{"exact", "abcde", 5},
		{"untrimmed", "  padded  ", 20},
		{"empty", "", 10},
		{"no limit", strings.Repeat("x", 500), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Chunk(tc.text, tc.max)
			want := []TextChunk{{Index: 0, Text: tc.text, StartChar: 0, EndChar: utf8.RuneCountInString(tc.text)}}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Chunk = %+v, want %+v", got, want)
			}
		})
	}
}

func TestChunk_SplitPriority(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			name: "sentence boundary",
			text: "A. B. C.",
			max:  5,
			want: []string{"A.", "B. C."},
		},
		{
			name: "last sentence in window wins",
			text: "One. Two? Three! Four five six",
			max:  20,
			want: []string{"One. Two? Three!", "Four five six"},
		},
		{
			name: "line breaks",
			text: "first line\nsecond line\r\nthird",
			max:  15,
			want: []string{"first line", "second line", "third"},
		},
		{
			name: "word boundary",
			text: "alpha beta gamma delta",
			max:  12,
			want: []string{"alpha beta", "gamma delta"},
		},
		{
			name: "hard cut",
			text: "abcdefghijklmnop",
			max:  5,
			want: []string{"abcde", "fghij", "klmno", "p"},
		},
		{
			name: "terminator without whitespace is not a boundary",
			text: "v1.2.3 released",
			max:  8,
			want: []string{"v1.2.3", "released"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := texts(Chunk(tc.text, tc.max))
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Chunk(%q, %d) = %q, want %q", tc.text, tc.max, got, tc.want)
			}
		})
	}
}

func TestChunk_DropsBlankChunksWithoutConsumingIndex(t *testing.T) {
	text := "abc\n\n\n\n\n\n\n\ndef"
	got := Chunk(text, 4)
	if len(got) != 2 {
		t.Fatalf("got %d chunks %q, want 2", len(got), texts(got))
	}
	for i, c := range got {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
	}
}

func TestChunk_Properties(t *testing.T) {
	inputs := []string{
		strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40),
		strings.Repeat("word ", 300) + "end",
		strings.Repeat("x", 1234),
		"Line one\nLine two\n\nLine three? Yes! " + strings.Repeat("more text here ", 50),
		strings.Repeat("Grüße aus Köln – schön, dass du da bist! ", 30),
		strings.Repeat("日本語のテキスト。", 80),
	}
	limits := []int{1, 7, 25, 100, 333}

	for _, text := range inputs {
		for _, max := range limits {
			chunks := Chunk(text, max)

			var joined strings.Builder
			for i, c := range chunks {
				if c.Index != i {
					t.Fatalf("max=%d: chunk %d has Index %d", max, i, c.Index)
				}
				if n := utf8.RuneCountInString(c.Text); n > max {
					t.Fatalf("max=%d: chunk %d has %d runes", max, i, n)
				}
				if c.Text == "" {
					t.Fatalf("max=%d: chunk %d is empty", max, i)
				}
				if !utf8.ValidString(c.Text) {
					t.Fatalf("max=%d: chunk %d is not valid UTF-8", max, i)
				}
				joined.WriteString(c.Text)
			}
			if stripSpace(joined.String()) != stripSpace(text) {
				t.Fatalf("max=%d: chunks do not reconstruct the input", max)
			}

			if again := Chunk(text, max); !reflect.DeepEqual(chunks, again) {
				t.Fatalf("max=%d: chunking is not deterministic", max)
			}
		}
	}
}

func TestChunk_OffsetsAreContiguous(t *testing.T) {
	text := strings.Repeat("Sentence number one. ", 20)
	chunks := Chunk(text, 50)
	prevEnd := 0
	for _, c := range chunks {
		if c.StartChar != prevEnd {
			t.Errorf("chunk %d StartChar = %d, want %d", c.Index, c.StartChar, prevEnd)
		}
		prevEnd = c.EndChar
	}
	if prevEnd != utf8.RuneCountInString(text) {
		t.Errorf("last EndChar = %d, want %d", prevEnd, len(text))
	}
}

func TestSplit(t *testing.T) {
	chunks := Chunk(strings.Repeat("a ", 12), 2)
	if len(chunks) != 12 {
		t.Fatalf("setup: got %d chunks, want 12", len(chunks))
	}

	batches := Split(chunks, 5)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2])}
	if !reflect.DeepEqual(sizes, []int{5, 5, 2}) {
		t.Errorf("batch sizes = %v, want [5 5 2]", sizes)
	}
	if batches[2][0].Index != 10 {
		t.Errorf("third batch starts at %d, want 10", batches[2][0].Index)
	}

	if got := Split(nil, 5); got != nil {
		t.Errorf("Split(nil) = %v, want nil", got)
	}
	if got := Split(chunks, 0); len(got) != 1 {
		t.Errorf("Split(size 0) = %d batches, want 1", len(got))
	}
}
