package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

const (
	// builderGrowthBuffer pads the key builder's initial allocation to
	// cover the separators and an optional region suffix.
	builderGrowthBuffer = 20
	// defaultProbeTimeoutSeconds bounds how long a crashed instance can
	// hold the distributed probe guard.
	defaultProbeTimeoutSeconds = 60
	// defaultMaxBreakers caps breaker creation when the config leaves it
	// unset, so unbounded key cardinality cannot exhaust memory.
	defaultMaxBreakers = 1000
)

// circuitBreakerMiddleware owns one breaker per provider/model (and region,
// when requests carry one). With a Redis client attached, half-open probes
// are additionally serialized across instances so a recovering provider sees
// one probe, not one per worker.
type circuitBreakerMiddleware struct {
	breakers          *shardedBreakers
	config            configuration.CircuitBreakerConfig
	redisClient       *redis.Client
	probeGuardEnabled bool
	logger            *slog.Logger
}

// NewCircuitBreakerMiddlewareWithRedis builds the circuit breaking
// middleware. A nil client disables the distributed probe guard; breakers
// then coordinate probes per instance only.
func NewCircuitBreakerMiddlewareWithRedis(
	cfg configuration.CircuitBreakerConfig,
	client *redis.Client,
) (transport.Middleware, error) {
	cbm := &circuitBreakerMiddleware{
		breakers:          newShardedBreakers(),
		config:            cfg,
		redisClient:       client,
		probeGuardEnabled: client != nil,
		logger:            slog.Default().With("component", "circuitbreaker"),
	}

	return cbm.middleware(), nil
}

// middleware returns the circuit breaker middleware function.
// Half-open probes are marked on the request context so downstream layers,
// like retry, can treat them as single-shot attempts.
func (c *circuitBreakerMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			key := c.buildKey(req)
			breaker, err := c.getOrCreateBreaker(key)
			if err != nil {
				return nil, err
			}

			result, err := breaker.allow()
			if err != nil || !result.Allowed {
				return nil, err
			}
			defer result.Cleanup()

			if result.IsHalfOpenProbe && c.probeGuardEnabled {
				if !c.acquireProbeGuard(ctx, key) {
					if breaker.metrics != nil {
						breaker.metrics.probeGuardConflicts.Add(1)
					}
					return nil, &llmerrors.ProviderError{
						Provider: req.Provider,
						Code:     "PROBE_IN_PROGRESS",
						Message:  "another instance is testing the provider",
						Type:     llmerrors.ErrorTypeCircuitBreaker,
					}
				}
				defer c.releaseProbeGuard(ctx, key)
			}

			requestCtx := ctx
			if result.IsHalfOpenProbe {
				requestCtx = transport.WithHalfOpenProbe(ctx)
			}
			resp, err := next.Handle(requestCtx, req)
			if err != nil {
				breaker.recordFailure()
				return nil, err
			}

			breaker.recordSuccess()
			return resp, nil
		})
	}
}

// buildKey derives the breaker key as provider:model, with the request's
// region appended when present. Built by hand because this runs on every
// request.
func (c *circuitBreakerMiddleware) buildKey(req *transport.Request) string {
	var builder strings.Builder
	builder.Grow(len(req.Provider) + len(req.Model) + builderGrowthBuffer)

	builder.WriteString(req.Provider)
	builder.WriteByte(':')
	builder.WriteString(req.Model)

	if req.Metadata != nil {
		if region, exists := req.Metadata["region"]; exists && region != "" {
			builder.WriteByte(':')
			builder.WriteString(region)
		}
	}

	return builder.String()
}

// getOrCreateBreaker returns the breaker for key, refusing to create one
// past the configured cap.
func (c *circuitBreakerMiddleware) getOrCreateBreaker(key string) (*circuitBreaker, error) {
	maxBreakers := c.config.MaxBreakers
	if maxBreakers == 0 {
		maxBreakers = defaultMaxBreakers
	}

	breaker, err := c.breakers.getOrCreate(key, func() *circuitBreaker {
		return newCircuitBreaker(c.config)
	}, maxBreakers)
	if err != nil {
		c.logger.Warn("circuit breaker limit reached",
			"key", key,
			"limit", maxBreakers,
			"error", err)
		return nil, err
	}

	return breaker, nil
}

// acquireProbeGuard claims the cross-instance probe lock for key. Guard
// errors resolve toward probing: a broken guard should degrade to
// per-instance coordination, not block recovery entirely.
func (c *circuitBreakerMiddleware) acquireProbeGuard(ctx context.Context, key string) bool {
	if c.redisClient == nil {
		return true
	}

	guardKey := fmt.Sprintf("cb:probe:%s", key)
	ttl := c.config.ProbeTimeout
	if ttl == 0 {
		ttl = defaultProbeTimeoutSeconds * time.Second
	}

	ok, err := c.redisClient.SetNX(ctx, guardKey, "1", ttl).Result()
	if err != nil {
		c.logger.Warn("failed to acquire probe guard", "error", err, "key", key)
		return true
	}

	return ok
}

// releaseProbeGuard drops the probe lock; the TTL covers the failure case.
func (c *circuitBreakerMiddleware) releaseProbeGuard(ctx context.Context, key string) {
	if c.redisClient == nil {
		return
	}

	guardKey := fmt.Sprintf("cb:probe:%s", key)
	if err := c.redisClient.Del(ctx, guardKey).Err(); err != nil {
		c.logger.Warn("failed to release probe guard", "error", err, "key", key)
	}
}

// GetState reports the state of the breaker for key.
func (c *circuitBreakerMiddleware) GetState(key string) (CircuitState, error) {
	breaker, exists := c.breakers.get(key)
	if !exists {
		return StateClosed, ErrCircuitBreakerNotFound
	}

	return CircuitState(breaker.state.Load()), nil
}

// Reset forces the breaker for key back to closed, for operator use after a
// known-fixed outage.
func (c *circuitBreakerMiddleware) Reset(key string) error {
	breaker, exists := c.breakers.get(key)
	if !exists {
		return ErrCircuitBreakerNotFound
	}

	breaker.transitionTo(StateClosed)
	return nil
}

// GetStats aggregates counters across every breaker in every shard.
func (c *circuitBreakerMiddleware) GetStats() (*Stats, error) {
	stats := &Stats{
		StateCount: map[string]int{
			StateClosed.String():   0,
			StateOpen.String():     0,
			StateHalfOpen.String(): 0,
		},
	}

	for i := range c.breakers.shards {
		shard := &c.breakers.shards[i]
		shard.RLock()

		for _, breaker := range shard.breakers {
			stats.TotalBreakers++

			state := CircuitState(breaker.state.Load())
			stats.StateCount[state.String()]++

			if breaker.metrics != nil {
				stats.TotalStateTransitions += breaker.metrics.stateTransitions.Load()
				stats.TotalRequestsAllowed += breaker.metrics.requestsAllowed.Load()
				stats.TotalRequestsRejected += breaker.metrics.requestsRejected.Load()
				stats.TotalProbeAttempts += breaker.metrics.probeAttempts.Load()
				stats.TotalProbeSuccesses += breaker.metrics.probeSuccesses.Load()
				stats.TotalProbeGuardConflicts += breaker.metrics.probeGuardConflicts.Load()
			}
		}

		shard.RUnlock()
	}

	return stats, nil
}
