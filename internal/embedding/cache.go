// Package embedding holds the embedding client adapter: a query cache in
// front of any domain.Embedder. Concrete providers live in subpackages.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"ragqa/internal/domain"
)

// DefaultCacheCapacity is the number of query embeddings kept when no capacity is configured.
const DefaultCacheCapacity = 1024

// CachedEmbedder wraps an Embedder with a least-recently-used cache keyed on
// the exact query string. Concurrent misses for the same query share one
// provider call.
type CachedEmbedder struct {
	inner  domain.Embedder
	cache  *lru.Cache[string, []float64]
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedEmbedder returns a cache holding at most capacity query embeddings.
func NewCachedEmbedder(inner domain.Embedder, capacity int, logger *slog.Logger) (*CachedEmbedder, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: cache capacity must be positive, got %d", domain.ErrConfiguration, capacity)
	}
	cache, err := lru.New[string, []float64](capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}, nil
}

// Name returns the wrapped embedder's name.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Dimension returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Embed calls the wrapped embedder without consulting the cache.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return c.inner.Embed(ctx, text)
}

// EmbedBatch calls the wrapped embedder without consulting the cache. Document
// chunks go through here; only queries are cached.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// EmbedCached returns the cached embedding for query, calling the provider
// only on a miss. Failed calls are not cached. The returned slice is the
// caller's own copy.
//
// Concurrent misses share one provider call, which runs detached from any
// single caller's cancellation; each caller still stops waiting when its own
// ctx is done.
func (c *CachedEmbedder) EmbedCached(ctx context.Context, query string) ([]float64, error) {
	if v, ok := c.cache.Get(query); ok {
		c.logger.Debug("query embedding cache hit")
		return slices.Clone(v), nil
	}
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(query, func() (any, error) {
		// A concurrent caller may have filled the entry while we waited to enter.
		if v, ok := c.cache.Get(query); ok {
			return v, nil
		}
		v, err := c.inner.Embed(shared, query)
		if err != nil {
			return nil, err
		}
		c.cache.Add(query, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]float64)), nil
	}
}

// Len reports the number of cached query embeddings.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
