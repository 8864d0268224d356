package memory

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Gateway turns strings into fixed-dimension vectors, one per input and in
// input order. Implementations do not retry; a failed call returns an
// *EmbeddingError.
type Gateway interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ErrEmptyInput is returned when Embed is called without any text.
var ErrEmptyInput = errors.New("embed called with no input")

// EmbedOne embeds a single string.
func EmbedOne(ctx context.Context, g Gateway, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CheckEmbeddings validates a provider response against its request.
func CheckEmbeddings(provider string, texts []string, vecs [][]float32, dims int) error {
	if len(vecs) != len(texts) {
		return &EmbeddingError{
			Provider: provider,
			Err:      fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts)),
		}
	}
	if dims <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dims {
			return &EmbeddingError{
				Provider: provider,
				Err:      fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dims),
			}
		}
	}
	return nil
}

// EncodeEmbedding encodes a []float32 into a []byte for storage.
func EncodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, f := range vec {
		u := math.Float32bits(f)
		binary.LittleEndian.PutUint32(b[i*4:], u)
	}
	return b
}

// DecodeEmbedding decodes a []byte into a []float32.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, errors.New("invalid embedding blob length")
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		u := binary.LittleEndian.Uint32(b[i*4:])
		vec[i] = math.Float32frombits(u)
	}
	return vec, nil
}

// CosineSimilarity between two equal-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ClampScore maps a cosine similarity into [0,1]. Opposite vectors score 0.
func ClampScore(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
