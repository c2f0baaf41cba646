package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/tracely/pulse/pkg/cache"
)

// DetailLoader fetches a span detail from the API.
type DetailLoader func(ctx context.Context, spanID string) (SpanDetail, error)

// DetailCacheConfig sizes a DetailCache.
type DetailCacheConfig struct {
	MaxItems int64
	TTL      time.Duration
}

// DetailCache keeps completed span details in memory, optionally backed by
// a shared redis cache. Details of completed spans never change, so entries
// only expire by TTL or eviction.
type DetailCache struct {
	local   *ristretto.Cache
	remote  *cache.CacheAside[SpanDetail]
	ttl     time.Duration
	metrics *Metrics
	logger  *slog.Logger
}

// NewDetailCache creates the in-memory cache. remote may be nil.
func NewDetailCache(cfg DetailCacheConfig, remote *cache.Client, metrics *Metrics, logger *slog.Logger) (*DetailCache, error) {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	local, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxItems,
		BufferItems: 64,
		// cost is one per entry, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create detail cache: %w", err)
	}

	c := &DetailCache{
		local:   local,
		ttl:     cfg.TTL,
		metrics: metrics,
		logger:  logger.With("component", "detail_cache"),
	}
	if remote != nil {
		c.remote = cache.NewCacheAside[SpanDetail](remote, cfg.TTL).
			WithKeyFunc(func(id string) string { return "span_detail:" + id })
	}
	return c, nil
}

// Get returns the detail for spanID, calling load on a miss.
func (c *DetailCache) Get(ctx context.Context, spanID string, load DetailLoader) (SpanDetail, error) {
	if v, ok := c.local.Get(spanID); ok {
		if d, ok := v.(SpanDetail); ok {
			c.observe("hit")
			return d, nil
		}
	}
	c.observe("miss")

	var (
		d   SpanDetail
		err error
	)
	if c.remote != nil {
		d, err = c.remote.Get(ctx, spanID, func(ctx context.Context) (SpanDetail, error) {
			return load(ctx, spanID)
		})
	} else {
		d, err = load(ctx, spanID)
	}
	if err != nil {
		return SpanDetail{}, err
	}

	if d.IsPending() {
		c.Invalidate(ctx, spanID)
		return d, nil
	}
	c.local.SetWithTTL(spanID, d, 1, c.ttl)
	return d, nil
}

// Invalidate drops spanID from both tiers.
func (c *DetailCache) Invalidate(ctx context.Context, spanID string) {
	c.local.Del(spanID)
	if c.remote != nil {
		if err := c.remote.Invalidate(ctx, spanID); err != nil {
			c.logger.WarnContext(ctx, "failed to invalidate remote detail", "span_id", spanID, "error", err)
		}
	}
}

// Wait blocks until buffered writes are applied.
func (c *DetailCache) Wait() {
	c.local.Wait()
}

// Close releases the in-memory cache.
func (c *DetailCache) Close() {
	c.local.Close()
}

func (c *DetailCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.DetailLookups.WithLabelValues(result).Inc()
	}
}
