package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Deterministic is a fixed-seed embedding provider for reproducible tests
// and offline development. Identical text always yields an identical unit
// vector, and different texts land in different directions, so similarity
// ranking is stable across runs without any model download or network.
//
// It approximates no semantics whatsoever; use it only where reproducibility
// matters more than meaning.
type Deterministic struct {
	dimension int
}

// NewDeterministic creates a Deterministic provider with the given output
// dimension (default 64 when non-positive).
func NewDeterministic(dimension int) *Deterministic {
	if dimension <= 0 {
		dimension = 64
	}
	return &Deterministic{dimension: dimension}
}

// EmbedQuery embeds a single text.
func (d *Deterministic) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrEmptyInput)
	}
	return d.vector(text), nil
}

// EmbedDocuments embeds a batch of texts.
func (d *Deterministic) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrEmptyInput, i)
		}
		out[i] = d.vector(text)
	}
	return out, nil
}

// vector derives a unit vector from an FNV-1a hash chain over the text.
func (d *Deterministic) vector(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, d.dimension)
	var sumSq float64
	state := seed
	for i := range vec {
		// xorshift64 keeps components decorrelated across positions.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map into [-1, 1).
		vec[i] = float32(int64(state)) / float32(math.MaxInt64)
		sumSq += float64(vec[i]) * float64(vec[i])
	}
	if sumSq > 0 {
		norm := float32(1 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

// Dimension returns the output vector length.
func (d *Deterministic) Dimension() int { return d.dimension }

// Close is a no-op.
func (d *Deterministic) Close() error { return nil }

var _ Provider = (*Deterministic)(nil)
