package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic bag-of-words embedder. Each lowercased word is
// hashed into one of Dim buckets and the result is L2-normalised, so texts
// sharing words land close together.
type Hash struct {
	dim int
}

var _ Embedder = (*Hash)(nil)

// NewHash returns a Hash embedder. dim defaults to 64.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 64
	}
	return &Hash{dim: dim}
}

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, h, text)
}

func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) Dimension() int { return h.dim }

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		f.Write([]byte(w))
		v[f.Sum32()%uint32(h.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
