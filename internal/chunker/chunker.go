// Package chunker splits document text into overlapping fixed-size chunks.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"finrag/internal/domain"
)

const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// Options configures chunking. Sizes are measured in characters.
type Options struct {
	ChunkSize int
	Overlap   int
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Validate checks 0 <= Overlap < ChunkSize.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrInvalidParameters, o.ChunkSize)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", domain.ErrInvalidParameters, o.Overlap)
	}
	if o.Overlap >= o.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", domain.ErrInvalidParameters, o.Overlap, o.ChunkSize)
	}
	return nil
}

// Split returns a lazy sequence of chunks over text. The sequence can be
// ranged over any number of times and yields the same chunks each time.
// Every chunk but the last is exactly ChunkSize characters long and
// consecutive chunks share exactly Overlap characters. Text must be valid
// UTF-8.
func Split(documentID, text string, opts Options) (iter.Seq[domain.Chunk], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: document %s is not valid UTF-8", domain.ErrInvalidParameters, documentID)
	}
	runes := []rune(text)
	step := opts.ChunkSize - opts.Overlap

	return func(yield func(domain.Chunk) bool) {
		if len(runes) == 0 {
			return
		}
		for i, start := 0, 0; ; i, start = i+1, start+step {
			end := min(start+opts.ChunkSize, len(runes))
			c := domain.Chunk{
				ID:          ChunkID(documentID, i),
				DocumentID:  documentID,
				Text:        string(runes[start:end]),
				OffsetStart: start,
				OffsetEnd:   end,
			}
			if !yield(c) || end == len(runes) {
				return
			}
		}
	}, nil
}

// Collect splits text and returns all chunks at once.
func Collect(documentID, text string, opts Options) ([]domain.Chunk, error) {
	seq, err := Split(documentID, text, opts)
	if err != nil {
		return nil, err
	}
	var out []domain.Chunk
	for c := range seq {
		out = append(out, c)
	}
	return out, nil
}

// ChunkID is the stable identifier of the i-th chunk of a document.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_%d", documentID, i)
}

// Reconstruct joins chunks of one document back into its text by dropping
// the overlapping prefix of every chunk after the first.
func Reconstruct(chunks []domain.Chunk) string {
	var sb strings.Builder
	covered := 0
	for _, c := range chunks {
		runes := []rune(c.Text)
		skip := covered - c.OffsetStart
		skip = max(0, min(skip, len(runes)))
		sb.WriteString(string(runes[skip:]))
		covered = c.OffsetEnd
	}
	return sb.String()
}
