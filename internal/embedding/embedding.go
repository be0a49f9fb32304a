// Package embedding provides vector embedding generation for semantic
// retrieval.
//
// Defines a Provider interface, a deterministic feature-hashing implementation
// (the default: no model download, byte-for-byte reproducible), and an Ollama
// implementation for deployments with a real embedding model. All providers
// emit L2-normalised vectors, so cosine similarity reduces to a dot product.
package embedding

import (
	"context"
	"math"
)

// Provider generates vector embeddings from text.
// Implementations must be deterministic for identical input and must emit
// L2-normalised vectors of exactly Dimensions() length.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int

	// ModelID identifies the model producing the vectors. Persisted memory
	// records are only valid under the model id they were created with.
	ModelID() string
}

// Cosine returns the cosine similarity of two vectors, 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalize scales v to unit L2 norm in place. Zero vectors stay zero.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// NoopProvider returns zero vectors. Used when embedding is disabled; every
// similarity involving its output is zero, so Stage 1 produces no signal.
type NoopProvider struct {
	dims int
}

// NewNoopProvider creates a provider that returns zero vectors.
func NewNoopProvider(dims int) *NoopProvider {
	return &NoopProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *NoopProvider) Dimensions() int { return p.dims }

// ModelID identifies the noop provider.
func (p *NoopProvider) ModelID() string { return "noop" }

// Embed returns a zero vector.
func (p *NoopProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, p.dims), nil
}
