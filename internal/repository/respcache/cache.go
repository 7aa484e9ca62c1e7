// Package respcache holds routing decisions keyed by normalized query and
// collapses concurrent computations of the same key into one.
package respcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/mathroute/internal/cache"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

// ComputeFunc produces a decision on a cache miss.
type ComputeFunc = func(ctx context.Context) (route.Decision, error)

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries   int
	Capacity  int
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Evictions uint64
	InFlight  int64
}

// Cache is the response cache.
type Cache struct {
	lru    *cache.LRU[string, route.Decision]
	flight singleflight.Group
	ttl    time.Duration
	logger *zap.Logger

	hits     atomic.Uint64
	misses   atomic.Uint64
	inFlight atomic.Int64

	cacheTotal *prometheus.CounterVec
	entries    prometheus.Gauge
	shared     prometheus.Counter
}

// New creates a cache holding up to capacity decisions for ttl each.
func New(capacity int, ttl time.Duration, logger *zap.Logger, opts ...cache.Option) *Cache {
	return &Cache{
		lru:    cache.NewLRU[string, route.Decision](capacity, ttl, opts...),
		ttl:    ttl,
		logger: logger,
	}
}

// WithMetrics attaches prometheus collectors. cacheTotal has the label "result" (hit/miss).
func (c *Cache) WithMetrics(cacheTotal *prometheus.CounterVec, entries prometheus.Gauge, shared prometheus.Counter) *Cache {
	c.cacheTotal = cacheTotal
	c.entries = entries
	c.shared = shared
	return c
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns a live decision for key.
func (c *Cache) Get(key string) (route.Decision, bool) {
	d, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		c.incCache("hit")
		return d, true
	}
	c.misses.Add(1)
	c.incCache("miss")
	return route.Decision{}, false
}

// Peek is Get without hit/miss accounting.
func (c *Cache) Peek(key string) (route.Decision, bool) {
	return c.lru.Get(key)
}

// Put stores d under key. Blocked and HumanReview decisions are never stored.
func (c *Cache) Put(key string, d route.Decision, ttl time.Duration) {
	if !d.Tag().Cacheable() {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.lru.Set(key, d, ttl)
	c.syncEntries()
}

// Invalidate drops key and reports whether it was cached.
func (c *Cache) Invalidate(key string) bool {
	ok := c.lru.Remove(key)
	c.syncEntries()
	return ok
}

// Flush drops every entry and returns how many were removed.
func (c *Cache) Flush() int {
	n := c.lru.Clear()
	c.syncEntries()
	return n
}

// Do runs compute at most once per key across concurrent callers. The computation
// is detached from the first caller's cancellation; each caller still stops waiting
// when its own ctx is done. shared reports whether the result came from another caller's run.
func (c *Cache) Do(ctx context.Context, key string, compute ComputeFunc) (d route.Decision, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		c.inFlight.Add(1)
		defer c.inFlight.Add(-1)
		return compute(detached)
	})

	select {
	case <-ctx.Done():
		return route.Decision{}, false, ctx.Err() //nolint:wrapcheck // caller's own cancellation
	case res := <-ch:
		if res.Shared && c.shared != nil {
			c.shared.Inc()
		}
		if res.Err != nil {
			return route.Decision{}, res.Shared, res.Err
		}
		return res.Val.(route.Decision), res.Shared, nil
	}
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	n := c.lru.Sweep()
	c.syncEntries()
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Response cache sweep", zap.Int("expired", n))
			}
		}
	}
}

// Stats returns hit/miss counters and occupancy.
func (c *Cache) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:   c.lru.Len(),
		Capacity:  c.lru.Capacity(),
		Hits:      hits,
		Misses:    misses,
		HitRate:   rate,
		Evictions: c.lru.Evictions(),
		InFlight:  c.inFlight.Load(),
	}
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *Cache) syncEntries() {
	if c.entries != nil {
		c.entries.Set(float64(c.lru.Len()))
	}
}
