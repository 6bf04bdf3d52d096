// File path: internal/splitter/splitter.go
package splitter

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter maps a document to an ordered sequence of overlapping chunks.
type Splitter interface {
	Split(text string) ([]string, error)
}

// Recursive wraps the langchaingo recursive character splitter with the
// paragraph, line, word, character separator cascade.
type Recursive struct {
	inner textsplitter.RecursiveCharacter
}

// NewRecursive builds a recursive splitter for the given chunk size and
// overlap, both measured in characters.
func NewRecursive(chunkSize, overlap int) *Recursive {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 50
	}
	inner := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	return &Recursive{inner: inner}
}

func (r *Recursive) Split(text string) ([]string, error) {
	if r == nil {
		return nil, fmt.Errorf("splitter not configured")
	}
	chunks, err := r.inner.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	return chunks, nil
}
