// Package mock provides a deterministic embedder for tests. Words are
// hashed into vector buckets, so texts sharing vocabulary genuinely score
// closer under cosine similarity without any model files.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Embedder is the test embedder.
type Embedder struct {
	dims int
}

// New creates a mock embedder producing unit vectors of the given size.
func New(dims int) *Embedder {
	return &Embedder{dims: dims}
}

// Embed hashes each lowercased word into a bucket and normalizes the
// result to a unit vector. The same text always produces the same vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%e.dims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}
