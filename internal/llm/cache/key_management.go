package cache

import (
	"fmt"
	"time"

	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

const (
	maxIdempotencyKeyLength = 256
	// minIdempotencyKeyLength rejects keys too short to plausibly be
	// derived from a hash; short keys collide and serve wrong responses.
	minIdempotencyKeyLength = 8

	// Meal plan generations are deterministic for a given key and priced
	// per token, so they keep a long TTL. Summaries chase a moving
	// conversation and go stale within the hour.
	generationCacheTTL = 24 * time.Hour
	summaryCacheTTL    = 1 * time.Hour
)

// buildKey validates the request and derives its cache key,
// "llm:{tenant}:{operation}:{idemkey}".
func (c *cacheMiddleware) buildKey(req *transport.Request) (string, error) {
	if err := c.validateCacheKeyFields(req); err != nil {
		return "", fmt.Errorf("invalid request for cache key: %w", err)
	}

	return transport.CacheKey(req.TenantID, req.Operation, transport.IdemKey(req.IdempotencyKey)), nil
}

// validateCacheKeyFields rejects requests whose key material is missing,
// malformed, or names an operation the cache does not handle. Rejected
// requests are executed uncached rather than failed.
func (c *cacheMiddleware) validateCacheKeyFields(req *transport.Request) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if req.Operation == "" {
		return fmt.Errorf("operation is required")
	}
	if req.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key is required for caching")
	}

	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return fmt.Errorf("idempotency key too long (max %d chars): %d", maxIdempotencyKeyLength, len(req.IdempotencyKey))
	}
	if len(req.IdempotencyKey) < minIdempotencyKeyLength {
		return fmt.Errorf("idempotency key too short (min %d chars): %d", minIdempotencyKeyLength, len(req.IdempotencyKey))
	}

	switch req.Operation {
	case transport.OpGeneration, transport.OpSummary:
	default:
		return fmt.Errorf("invalid operation: %s", req.Operation)
	}

	return nil
}

// getTTL picks the entry lifetime by operation, falling back to the
// configured default for operations added after this switch.
func (c *cacheMiddleware) getTTL(req *transport.Request) time.Duration {
	switch req.Operation {
	case transport.OpGeneration:
		return generationCacheTTL
	case transport.OpSummary:
		return summaryCacheTTL
	default:
		return c.ttl
	}
}
