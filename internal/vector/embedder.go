package vector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Embedder turns text into a fixed-dimensionality embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// DefaultDimension matches the embedding size the episode index is
// provisioned for.
const DefaultDimension = 1536

// HashingEmbedder produces deterministic embeddings from an FNV hash of the
// input. It has no semantic power but keeps similarity recall exact for
// identical text, which is enough for offline and test environments where no
// model endpoint is configured.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a hashing embedder with the given dimension.
func NewHashingEmbedder(dimension int) (*HashingEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	return &HashingEmbedder{dimension: dimension}, nil
}

// Embed implements Embedder.
func (e *HashingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	if _, err := h.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("failed to hash text: %w", err)
	}
	hash := h.Sum64()

	vec := make([]float32, e.dimension)
	for i := 0; i < e.dimension; i++ {
		shift := uint(i % 64)
		val := float64((hash>>shift)&0xFF)/127.5 - 1.0
		val *= math.Sin(float64(i+1) * math.Pi / float64(e.dimension))
		vec[i] = float32(val)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	if norm := float32(math.Sqrt(sum)); norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimension implements Embedder.
func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}
