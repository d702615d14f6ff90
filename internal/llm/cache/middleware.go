// Package cache stores successful provider responses in Redis, keyed by the
// request's idempotency key. A Lua check-and-lease step makes the lookup
// atomic across instances: one caller wins the lease and does the work while
// the rest briefly wait for its result instead of issuing duplicate provider
// calls. When Redis is missing or unhealthy the middleware steps aside and
// every request goes straight to the provider.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

const (
	defaultPoolSize   = 10
	connectionTimeout = 5 * time.Second

	// leaseTimeout bounds how long a crashed lease holder can block other
	// instances from doing the work themselves.
	leaseTimeout = 30 * time.Second
	// retryCheckInterval is how long a lease loser waits before checking
	// whether the winner has populated the cache.
	retryCheckInterval = 100 * time.Millisecond
	cleanupTimeout     = 5 * time.Second
)

// cacheMiddleware carries the Redis client, TTL policy, and hit/miss
// counters. A zero maxAge disables staleness checking; entries then live
// for their full TTL.
type cacheMiddleware struct {
	client  *redis.Client
	ttl     time.Duration
	maxAge  time.Duration
	enabled bool

	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewCacheMiddlewareWithRedis builds the response cache middleware. A nil
// client with caching enabled makes the middleware dial Redis from cfg; if
// the ping fails, caching is disabled and construction still succeeds, so a
// missing Redis never takes the pipeline down.
func NewCacheMiddlewareWithRedis(ctx context.Context, cfg configuration.CacheConfig, client *redis.Client) (transport.Middleware, error) {
	if client == nil && cfg.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: defaultPoolSize,
		})

		timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()

		if err := client.Ping(timeoutCtx).Err(); err != nil {
			slog.Warn("Redis connection failed, cache disabled", "error", err)
			cfg.Enabled = false
		}
	}

	cm := &cacheMiddleware{
		client:  client,
		ttl:     cfg.TTL,
		maxAge:  cfg.MaxAge,
		enabled: cfg.Enabled,
		logger:  slog.Default().With("component", "cache"),
	}

	return cm.middleware(), nil
}

// middleware returns the caching handler wrapper. Requests without an
// idempotency key are not cacheable and pass straight through; everything
// else goes through the check-and-lease flow. Cache infrastructure errors
// downgrade to a plain provider call, never to a failed request.
func (c *cacheMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if !c.enabled || req.IdempotencyKey == "" {
				return next.Handle(ctx, req)
			}

			key, keyErr := c.buildKey(req)
			if keyErr != nil {
				c.logger.Warn("cache key validation failed", "error", keyErr)
				return next.Handle(ctx, req)
			}

			leaseKey := key + ":lease"
			status, cached, acquired, err := c.atomicCheckAndLease(ctx, key, leaseKey, leaseTimeout)

			switch status {
			case cacheHit:
				c.hits.Add(1)
				c.logger.Debug("cache hit",
					"key", key,
					"provider", req.Provider,
					"model", req.Model,
					"operation", req.Operation)
				return cached, nil

			case leaseAcquired:
				c.misses.Add(1)

			case leaseFailed:
				c.misses.Add(1)
				// Someone else is doing this exact work. Give them one
				// interval to finish, then do it ourselves.
				select {
				case <-time.After(retryCheckInterval):
					if retryResp, retryErr := c.get(ctx, key); retryErr == nil && retryResp != nil {
						c.hits.Add(1)
						c.logger.Debug("cache hit after lease wait", "key", key)
						return retryResp, nil
					}
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			if err != nil {
				c.errors.Add(1)
				c.logger.Warn("cache/lease operation error", "error", err, "key", key)
			}

			if acquired {
				// Release even when the caller's context is already dead;
				// a leaked lease stalls every other instance for its TTL.
				defer c.releaseLease(leaseKey)
			}

			resp, err := next.Handle(ctx, req)
			if err != nil {
				// Errors are never cached; the next attempt should reach
				// the provider.
				return nil, err
			}

			if resp != nil {
				if cacheErr := c.set(ctx, key, resp, req); cacheErr != nil {
					c.logger.Warn("cache set error", "error", cacheErr, "key", key)
				}
			}

			return resp, nil
		})
	}
}

// releaseLease deletes the lease key on a background context so cleanup
// survives request cancellation.
func (c *cacheMiddleware) releaseLease(leaseKey string) {
	if c.client == nil {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := c.client.Del(cleanupCtx, leaseKey).Err(); err != nil {
		c.logger.Warn("lease cleanup error", "error", err, "key", leaseKey)
	}
}
