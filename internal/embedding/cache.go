package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"finrag/internal/domain"
	"finrag/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "finrag:emb:"

var _ domain.Embedder = (*Cached)(nil)

// Cached stores embeddings in Redis keyed by model and text digest. Redis
// failures are logged and fall through to the wrapped embedder.
type Cached struct {
	next   domain.Embedder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next domain.Embedder, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) Dimension() int { return c.next.Dimension() }
func (c *Cached) Model() string  { return c.next.Model() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		vals = make([]any, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range vals {
		if s, ok := v.(string); ok {
			if vec, err := DecodeVector([]byte(s), c.Dimension()); err == nil {
				out[i] = vec
				metrics.EmbeddingCacheHits.Inc()
				continue
			}
		}
		metrics.EmbeddingCacheMiss.Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		out[i] = vecs[j]
		pipe.Set(ctx, keys[i], EncodeVector(vecs[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	return out, nil
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cachePrefix + c.Model() + ":" + hex.EncodeToString(sum[:])
}
