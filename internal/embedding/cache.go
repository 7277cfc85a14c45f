package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes another embedder. The extractor embeds the same facet
// prefixes and repeated queries often, so hits skip a model round trip.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache bounded to maxBytes of vectors.
func NewCached(inner Embedder, maxBytes int64) (*Cached, error) {
	counters := maxBytes / 64
	if counters < 1000 {
		counters = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		return append(Vector(nil), v.(Vector)...), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append(Vector(nil), v...), int64(len(v)*4))
	return v, nil
}

func (c *Cached) Dims() int { return c.inner.Dims() }

// CacheStats reports hit and miss counts since creation.
func (c *Cached) CacheStats() (hits, misses uint64) {
	return c.cache.Metrics.Hits(), c.cache.Metrics.Misses()
}

// Close releases the cache goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}
