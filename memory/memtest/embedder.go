// Package memtest provides deterministic embedding gateways for tests.
package memtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/aschepis/backscratcher/mnemo/memory"
)

// HashEmbedder hashes each lowercased word into one of Dims buckets and
// normalizes the result. Texts sharing words have high cosine similarity,
// texts sharing none score (near) zero.
type HashEmbedder struct {
	Dims int

	mu    sync.Mutex
	calls int
}

// NewHashEmbedder returns a HashEmbedder with the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

// Embed implements memory.Gateway.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, memory.ErrEmptyInput
	}
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimensions implements memory.Gateway.
func (e *HashEmbedder) Dimensions() int { return e.Dims }

// Calls returns how many times Embed was called.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w)) //nolint:errcheck // hash writes never fail
		vec[h.Sum32()%uint32(e.Dims)] += 1 // nolint:gosec // dims is small and positive
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// ErrUnavailable is the cause wrapped by FailingEmbedder.
var ErrUnavailable = errors.New("embedding service unavailable")

// FailingEmbedder always fails with an *memory.EmbeddingError.
type FailingEmbedder struct {
	Dims int
}

// Embed implements memory.Gateway.
func (f FailingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, &memory.EmbeddingError{Provider: "failing", Err: ErrUnavailable}
}

// Dimensions implements memory.Gateway.
func (f FailingEmbedder) Dimensions() int { return f.Dims }
