package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"finrag/internal/domain"
)

const defaultAttempts = 3

// Retrying wraps an embedder and retries calls that fail with
// ErrEmbeddingUnavailable, using exponential backoff with jitter.
type Retrying struct {
	next     domain.Embedder
	attempts int
	base     time.Duration
	logger   *slog.Logger
}

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *slog.Logger
}

func NewRetrying(next domain.Embedder, cfg RetryConfig) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retrying{next: next, attempts: cfg.Attempts, base: cfg.BaseDelay, logger: cfg.Logger}
}

func (r *Retrying) Dimension() int { return r.next.Dimension() }
func (r *Retrying) Model() string  { return r.next.Model() }

func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			base := r.base * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			r.logger.Warn("retrying embedding", "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vecs, err := r.next.Embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", r.attempts, lastErr)
}
