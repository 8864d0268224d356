package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
)

// CachedGateway is a read-through cache in front of a Gateway. Only texts
// missing from the cache are sent to the wrapped gateway, in one batch.
// Callers own the returned vectors.
type CachedGateway struct {
	next   Gateway
	cache  *ristretto.Cache
	logger zerolog.Logger
}

// NewCachedGateway caches up to maxEntries vectors.
func NewCachedGateway(next Gateway, maxEntries int64, logger zerolog.Logger) (*CachedGateway, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedGateway{
		next:   next,
		cache:  cache,
		logger: logger.With().Str("component", "embedding_cache").Logger(),
	}, nil
}

// Embed implements Gateway.
func (g *CachedGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := g.cache.Get(t); ok {
			out[i] = append([]float32(nil), v.([]float32)...)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	g.logger.Debug().
		Int("requested", len(texts)).
		Int("misses", len(missing)).
		Msg("Embed")
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := g.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := CheckEmbeddings("cache", missing, vecs, 0); err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		g.cache.Set(missing[j], append([]float32(nil), v...), 1)
	}
	return out, nil
}

// Dimensions implements Gateway.
func (g *CachedGateway) Dimensions() int { return g.next.Dimensions() }

// Wait blocks until pending cache writes are visible.
func (g *CachedGateway) Wait() { g.cache.Wait() }

// Close releases the cache.
func (g *CachedGateway) Close() { g.cache.Close() }
