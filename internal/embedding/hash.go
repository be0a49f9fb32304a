package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// HashingProvider embeds text by feature hashing: each unigram and bigram is
// hashed into one of D buckets with a sign hash, and the resulting vector is
// L2-normalised. It is a pure function of its input — no model, no I/O — which
// makes it the default provider where reproducibility matters more than
// semantic depth (tests, air-gapped deployments, CI).
type HashingProvider struct {
	dims int
}

// NewHashingProvider creates a deterministic feature-hashing provider.
func NewHashingProvider(dims int) *HashingProvider {
	if dims <= 0 {
		dims = 384
	}
	return &HashingProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashingProvider) Dimensions() int { return p.dims }

// ModelID identifies the hashing scheme and dimensionality. Bumping the
// scheme version invalidates persisted memory, by the same rule as swapping
// a real model.
func (p *HashingProvider) ModelID() string {
	return fmt.Sprintf("feathash-v1-%d", p.dims)
}

// Embed hashes unigram and bigram features of the text into a fixed-length
// L2-normalised vector.
func (p *HashingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		p.addFeature(vec, tok)
		if i+1 < len(tokens) {
			p.addFeature(vec, tok+" "+tokens[i+1])
		}
	}
	return normalize(vec), nil
}

// addFeature accumulates one feature into the vector. The low bits of the
// 64-bit FNV-1a hash pick the bucket; bit 63 picks the sign, which keeps the
// expected dot product of unrelated texts near zero.
func (p *HashingProvider) addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(p.dims)) //nolint:gosec // dims is small and positive
	if sum&(1<<63) != 0 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}
