package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finrag/internal/domain"
)

// DefaultK is the number of chunks returned per question.
const DefaultK = 4

// Retriever embeds a question and returns the most similar indexed chunks.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	k        int
	logger   *slog.Logger
}

type RetrieverConfig struct {
	Embedder domain.Embedder
	Index    domain.VectorIndex
	K        int
	Logger   *slog.Logger
}

func NewRetriever(cfg RetrieverConfig) *Retriever {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{embedder: cfg.Embedder, index: cfg.Index, k: cfg.K, logger: cfg.Logger}
}

// Retrieve returns up to k chunks by descending similarity. An empty result
// is not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]domain.SearchResult, error) {
	vecs, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed question: expected 1 vector, got %d", len(vecs))
	}
	results, err := r.index.Search(ctx, vecs[0], r.k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	r.logger.Debug("retrieved chunks", "count", len(results), "k", r.k)
	return results, nil
}

// K returns the configured result count.
func (r *Retriever) K() int { return r.k }

// BuildContext joins chunk texts with newlines in retrieval order.
func BuildContext(results []domain.SearchResult) string {
	texts := make([]string, len(results))
	for i, res := range results {
		texts[i] = res.Chunk.Text
	}
	return strings.Join(texts, "\n")
}
