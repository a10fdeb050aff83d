package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"finrag/internal/domain"
	"finrag/internal/metrics"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel     = "BAAI/bge-base-en-v1.5"
	defaultOpenAIDimension = 768
	defaultBatchSize       = 32
)

// OpenAI embeds texts through any OpenAI-compatible /embeddings endpoint
// (OpenAI, Zhipu, Ollama, text-embeddings-inference).
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
	logger    *slog.Logger
}

type OpenAIConfig struct {
	APIBase    string
	APIKey     string
	Model      string
	Dimension  int
	BatchSize  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultOpenAIDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = cfg.APIBase
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

func (e *OpenAI) Dimension() int { return e.dimension }
func (e *OpenAI) Model() string  { return e.model }

// Embed returns one unit-length vector per text, in input order.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		metrics.EmbeddingRequests.Inc()
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			metrics.EmbeddingFailures.Inc()
			return nil, classifyError(ctx, err)
		}
		if len(resp.Data) != len(batch) {
			metrics.EmbeddingFailures.Inc()
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", domain.ErrEmbeddingUnavailable, len(batch), len(resp.Data))
		}

		filled := make([]bool, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				metrics.EmbeddingFailures.Inc()
				return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrEmbeddingUnavailable, d.Index)
			}
			if filled[d.Index] {
				metrics.EmbeddingFailures.Inc()
				return nil, fmt.Errorf("%w: embedding index %d returned twice", domain.ErrEmbeddingUnavailable, d.Index)
			}
			filled[d.Index] = true
			if len(d.Embedding) != e.dimension {
				return nil, fmt.Errorf("%w: model %s returned %d dimensions, configured %d",
					domain.ErrDimensionMismatch, e.model, len(d.Embedding), e.dimension)
			}
			v := make([]float32, len(d.Embedding))
			for i, x := range d.Embedding {
				if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
					metrics.EmbeddingFailures.Inc()
					return nil, fmt.Errorf("%w: embedding %d has a non-finite component", domain.ErrEmbeddingUnavailable, d.Index)
				}
				v[i] = x
			}
			Normalize(v)
			out[start+d.Index] = v
		}
		e.logger.Debug("embedded batch", "model", e.model, "size", len(batch))
	}
	return out, nil
}

// classifyError maps transport failures, 5xx and 429 responses to
// ErrEmbeddingUnavailable. Other API errors (bad key, unknown model) are
// returned as they are because retrying cannot fix them.
func classifyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		return fmt.Errorf("embedding request rejected: %w", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode == 0 {
			return fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
		return fmt.Errorf("embedding request rejected: %w", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
}
