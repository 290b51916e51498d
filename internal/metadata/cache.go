package metadata

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"evonft-service/internal/observability"
)

// DefaultCacheSize is the number of documents kept by CachingFetcher.
const DefaultCacheSize = 1024

// CachingFetcher keeps recently fetched documents in an LRU. Published URIs
// are content-addressed, so entries never go stale; Invalidate exists for
// mutable http URIs and reorged events.
type CachingFetcher struct {
	inner   Fetcher
	cache   *lru.Cache[string, []byte]
	metrics *observability.Metrics
}

// NewCachingFetcher wraps inner with an LRU of the given size.
func NewCachingFetcher(inner Fetcher, size int, metrics *observability.Metrics) (*CachingFetcher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &CachingFetcher{inner: inner, cache: cache, metrics: metrics}, nil
}

// Fetch implements Fetcher. Callers get their own copy.
func (c *CachingFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if data, ok := c.cache.Get(uri); ok {
		c.metrics.RecordCacheLookup(true)
		return append([]byte(nil), data...), nil
	}
	c.metrics.RecordCacheLookup(false)

	data, err := c.inner.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	c.cache.Add(uri, append([]byte(nil), data...))
	return data, nil
}

// Warm fetches uri into the cache if it is not there yet.
func (c *CachingFetcher) Warm(ctx context.Context, uri string) error {
	if c.cache.Contains(uri) {
		return nil
	}
	_, err := c.Fetch(ctx, uri)
	return err
}

// Invalidate drops uri from the cache.
func (c *CachingFetcher) Invalidate(uri string) {
	c.cache.Remove(uri)
}

// Len returns the number of cached documents.
func (c *CachingFetcher) Len() int {
	return c.cache.Len()
}
