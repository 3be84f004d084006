package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xxxsen/docqa/internal/model"
	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits text into fragments of at most size runes. Consecutive
// fragments share up to overlap runes.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative: %w", appErr.ErrInvalid)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d: %w", overlap, size, appErr.ErrInvalid)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int {
	return c.size
}

func (c *Chunker) Overlap() int {
	return c.overlap
}

// Split returns the fragments of text in document order. The sequence is
// computed on every iteration, so it can be ranged over more than once.
func (c *Chunker) Split(text string, sourceID string) iter.Seq[model.Fragment] {
	return func(yield func(model.Fragment) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		runes := []rune(text)
		limit := c.size - c.overlap
		segStart, segLen, index := 0, 0, 0
		emit := func() bool {
			from := segStart - min(c.overlap, segStart)
			frag := model.Fragment{
				SourceID:   sourceID,
				ChunkIndex: index,
				Content:    string(runes[from : segStart+segLen]),
			}
			index++
			segStart += segLen
			segLen = 0
			return yield(frag)
		}
		for _, atom := range splitAtoms(text, limit, 0) {
			n := utf8.RuneCountInString(atom)
			if segLen > 0 && segLen+n > limit {
				if !emit() {
					return
				}
			}
			segLen += n
		}
		if segLen > 0 {
			emit()
		}
	}
}

type splitFunc func(s string) []string

// levels are tried from the coarsest boundary to the finest.
var levels = []splitFunc{
	func(s string) []string { return splitAfter(s, "\n\n") },
	func(s string) []string { return splitAfter(s, "\n") },
	splitSentences,
	func(s string) []string { return splitAfter(s, " ") },
}

// splitAtoms breaks s into pieces of at most limit runes whose concatenation
// is s.
func splitAtoms(s string, limit int, level int) []string {
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	if level >= len(levels) {
		return splitRunes(s, limit)
	}
	pieces := levels[level](s)
	if len(pieces) <= 1 {
		return splitAtoms(s, limit, level+1)
	}
	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if utf8.RuneCountInString(piece) <= limit {
			out = append(out, piece)
			continue
		}
		out = append(out, splitAtoms(piece, limit, level+1)...)
	}
	return out
}

func splitAfter(s, sep string) []string {
	parts := strings.SplitAfter(s, sep)
	if n := len(parts); n > 0 && parts[n-1] == "" {
		parts = parts[:n-1]
	}
	return parts
}

// splitSentences cuts after terminal punctuation plus the whitespace rune
// that follows it.
func splitSentences(s string) []string {
	var out []string
	runes := []rune(s)
	start := 0
	for i := 0; i+1 < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				out = append(out, string(runes[start:i+2]))
				start = i + 2
				i++
			}
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	out := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
