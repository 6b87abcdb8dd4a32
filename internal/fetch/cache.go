package fetch

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

// cachedLister wraps a Lister with a bounded cache of directory listings
// keyed by directory URL, so a monthly directory is listed once rather than
// once per day. Entries expire after ttl so a long session sees files the
// archive publishes mid-run.
type cachedLister struct {
	inner   Lister
	cache   *expirable.LRU[string, []string]
	metrics *observability.Metrics
}

func newCachedLister(inner Lister, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *cachedLister {
	return &cachedLister{
		inner:   inner,
		cache:   expirable.NewLRU[string, []string](max(maxEntries, 1), nil, ttl),
		metrics: metrics,
	}
}

func (c *cachedLister) List(ctx context.Context, dirURL string) ([]string, error) {
	if names, ok := c.cache.Get(dirURL); ok {
		c.metrics.ListingCache.WithLabelValues("hit").Inc()
		return names, nil
	}
	c.metrics.ListingCache.WithLabelValues("miss").Inc()

	names, err := c.inner.List(ctx, dirURL)
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues("list", "error").Inc()
		return nil, err
	}
	c.metrics.RemoteRequests.WithLabelValues("list", "success").Inc()
	// Empty listings are not cached: the archive may not have published the
	// directory yet.
	if len(names) > 0 {
		c.cache.Add(dirURL, names)
	}
	return names, nil
}
