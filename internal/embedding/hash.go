package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// Hash is a deterministic, model-free embedder based on feature hashing of
// lowercased word unigrams and bigrams. It needs no network and is used for
// offline corpora and tests.
type Hash struct {
	dim int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 256
	}
	return &Hash{dim: dim}
}

func (h *Hash) Dimension() int { return h.dim }
func (h *Hash) Model() string  { return fmt.Sprintf("hash-v1-%d", h.dim) }

func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	Normalize(v)
	return v
}

func (h *Hash) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
