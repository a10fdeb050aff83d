package domain

import (
	"context"
	"time"
)

// Document is one ingested source file.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int       `json:"size"` // characters of extracted text
	ChunkCount int       `json:"chunk_count"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Chunk is an overlapping, fixed-size segment of a document's text.
// Offsets are character offsets into the extracted text, end exclusive.
type Chunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Text        string    `json:"text"`
	OffsetStart int       `json:"offset_start"`
	OffsetEnd   int       `json:"offset_end"`
	Embedding   []float32 `json:"-"`
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return c.OffsetEnd - c.OffsetStart
}

// SearchResult is a chunk ranked by similarity to a query vector.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Embedder maps texts to fixed-dimension vectors, one per input, same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// VectorIndex is the persistent store of embedded chunks.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error)
	Count() int
	Dimension() int
	Model() string
}
