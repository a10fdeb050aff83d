package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"finrag/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embeddingServer answers /embeddings with vectors whose first component is
// the input length, returning the data entries in reverse order.
func embeddingServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, dim)
			v[0] = float32(len(req.Input[i]))
			v[1] = 1
			data = append(data, item{Object: "embedding", Embedding: v, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
}

func TestOpenAI_OrderAndNormalisation(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 4, &calls)
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIBase: srv.URL, APIKey: "k", Model: "m", Dimension: 4, BatchSize: 2})
	texts := []string{"a", "bbb", "cc", "dddd", "eeeee"}
	vecs, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, int32(3), calls.Load(), "five texts in batches of two")

	for i, v := range vecs {
		n := float64(len(texts[i]))
		assert.InDelta(t, n/math.Sqrt(n*n+1), v[0], 1e-6, "vector %d is out of order", i)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, norm, 1e-5)
	}
}

func TestOpenAI_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, 8, &calls)
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Model: "m", Dimension: 4})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestOpenAI_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Model: "m", Dimension: 4})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestOpenAI_UnauthorizedIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Model: "m", Dimension: 4})
	_, err := e.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrEmbeddingUnavailable))
}

func TestOpenAI_DuplicateIndexIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"m","data":[
			{"object":"embedding","index":0,"embedding":[1,0,0,0]},
			{"object":"embedding","index":0,"embedding":[0,1,0,0]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Model: "m", Dimension: 4})
	_, err := e.Embed(context.Background(), []string{"x", "y"})
	require.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Contains(t, err.Error(), "returned twice")
}

func TestOpenAI_EmptyInput(t *testing.T) {
	e := NewOpenAI(OpenAIConfig{APIBase: "http://127.0.0.1:1", Dimension: 4})
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestHash_DeterministicAndSimilar(t *testing.T) {
	h := NewHash(128)
	vecs, err := h.Embed(context.Background(), []string{
		"Net revenue increased in the fourth quarter",
		"Net revenue increased in the fourth quarter",
		"The fourth quarter net revenue increased",
		"Employees enjoyed the company picnic",
	})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Len(t, vecs[0], 128)
	related := CosineSimilarity(vecs[0], vecs[2])
	unrelated := CosineSimilarity(vecs[0], vecs[3])
	assert.Greater(t, related, unrelated)
	assert.Equal(t, "hash-v1-128", h.Model())
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3, 0}
	got, err := DecodeVector(EncodeVector(v), 4)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeVector(EncodeVector(v), 3)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

type flakyEmbedder struct {
	failures int
	err      error
	calls    int
}

func (f *flakyEmbedder) Dimension() int { return 2 }
func (f *flakyEmbedder) Model() string  { return "flaky" }
func (f *flakyEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyEmbedder{failures: 2, err: fmt.Errorf("%w: timeout", domain.ErrEmbeddingUnavailable)}
	r := NewRetrying(inner, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond})
	vecs, err := r.Embed(context.Background(), []string{"q"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestRetrying_GivesUpAfterAttempts(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: fmt.Errorf("%w: timeout", domain.ErrEmbeddingUnavailable)}
	r := NewRetrying(inner, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond})
	_, err := r.Embed(context.Background(), []string{"q"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestRetrying_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: errors.New("invalid api key")}
	r := NewRetrying(inner, RetryConfig{Attempts: 3, BaseDelay: time.Millisecond})
	_, err := r.Embed(context.Background(), []string{"q"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	inner := &flakyEmbedder{failures: 10, err: domain.ErrEmbeddingUnavailable}
	r := NewRetrying(inner, RetryConfig{Attempts: 5, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Embed(ctx, []string{"q"})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingEmbedder struct {
	inner domain.Embedder
	texts int
}

func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *countingEmbedder) Model() string  { return c.inner.Model() }
func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts += len(texts)
	return c.inner.Embed(ctx, texts)
}

func setupTestCache(t *testing.T) (*Cached, *countingEmbedder, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	inner := &countingEmbedder{inner: NewHash(16)}
	return NewCached(inner, client, time.Hour, nil), inner, mr
}

func TestCached_ServesRepeatsFromRedis(t *testing.T) {
	c, inner, mr := setupTestCache(t)
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"revenue", "margin"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.texts)

	second, err := c.Embed(ctx, []string{"margin", "cash flow", "revenue"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.texts, "only the new text reaches the embedder")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])

	assert.Len(t, mr.Keys(), 3)
	mr.FastForward(2 * time.Hour)
	assert.Empty(t, mr.Keys())
}

func TestCached_FallsThroughWhenRedisIsDown(t *testing.T) {
	c, inner, mr := setupTestCache(t)
	mr.Close()

	vecs, err := c.Embed(context.Background(), []string{"revenue"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 1, inner.texts)
}
