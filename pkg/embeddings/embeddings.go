// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (e.g., OpenAI text-embedding-3 or a local Ollama model). These vectors
// power semantic search over stored conversation history.
//
// Embeddings are optional: when no provider is configured, history search is
// unavailable but everything else works normally.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"math"
)

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance share the same
// dimensionality. Callers must not mix vectors from different Provider
// instances in the same similarity computation unless they have verified that
// both use the same model and space; ModelID is the identity to compare.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes embedding vectors for a slice of text strings in a single
	// provider call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. A nil or empty texts slice returns
	// (nil, nil) without contacting the backend.
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned; on error the entire slice is nil.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID returns the provider-specific model identifier used for
	// embeddings (e.g., "text-embedding-3-small", "nomic-embed-text"). Stores
	// record it alongside vectors so a model switch invalidates stale ones.
	ModelID() string
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different lengths or with zero magnitude score 0, so callers can rank
// candidates without special-casing degenerate input.
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
