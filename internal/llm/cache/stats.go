package cache

import "context"

// Stats snapshots cache effectiveness. A sinking HitRate on the generation
// operation usually means idempotency keys are churning, since identical
// evaluation inputs should keep producing identical keys.
type Stats struct {
	Hits   int64
	Misses int64
	// Errors counts cache infrastructure failures, not misses; requests
	// behind these errors were still served by the provider.
	Errors int64
	// HitRate is Hits over all lookups, zero before the first lookup.
	HitRate float64

	// Redis connection pool counters, zero without a client.
	PoolHits       uint32
	PoolMisses     uint32
	PoolTimeouts   uint32
	PoolTotalConns uint32
	PoolIdleConns  uint32
	PoolStaleConns uint32
}

// GetStats reads the counters and derives the hit rate.
func (c *cacheMiddleware) GetStats(_ context.Context) (*Stats, error) {
	hits := c.hits.Load()
	misses := c.misses.Load()
	errors := c.errors.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	stats := &Stats{
		Hits:    hits,
		Misses:  misses,
		Errors:  errors,
		HitRate: hitRate,
	}

	if c.client != nil {
		poolStats := c.client.PoolStats()
		stats.PoolHits = poolStats.Hits
		stats.PoolMisses = poolStats.Misses
		stats.PoolTimeouts = poolStats.Timeouts
		stats.PoolTotalConns = poolStats.TotalConns
		stats.PoolIdleConns = poolStats.IdleConns
		stats.PoolStaleConns = poolStats.StaleConns
	}

	return stats, nil
}
