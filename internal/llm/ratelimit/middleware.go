// Package ratelimit throttles outbound provider traffic in two layers: a
// per-key local token bucket and an optional Redis fixed window shared by
// every process on the same Redis. Keys carry tenant, provider, model, and
// operation, so a chat session hammering one provider cannot starve the rest.
//
// The Redis layer is best-effort. Any sign of Redis trouble flips the
// middleware into degraded mode, where the local bucket (or a conservative
// fallback bucket when local limiting is off) carries the load alone. Calls
// are never failed because the limiter's own infrastructure is down.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

const (
	// CleanupInterval is how often the background sweep looks for idle
	// local limiters.
	CleanupInterval = 1 * time.Hour

	// LimiterTTL is how long a local limiter may go untouched before the
	// sweep considers it stale.
	LimiterTTL = 1 * time.Hour

	// LimiterTTLMultiplier scales a bucket's full refill time into its
	// minimum lifetime. A limiter must outlive several refills, otherwise
	// the sweep could discard rate-limit state that still matters.
	LimiterTTLMultiplier = 10
)

// rateLimitMiddleware holds both limiter layers and the cleanup machinery.
//
// The local layer is a map of per-key token buckets guarded by localMu. The
// global layer is a Redis client running a fixed-window script; its
// DegradedMode flag is flipped (never cleared) when Redis misbehaves. A
// background goroutine sweeps idle buckets so long-running workers do not
// accumulate a limiter per session forever.
type rateLimitMiddleware struct {
	localMu sync.RWMutex
	// localLimiters maps tenant:provider:model:operation to its bucket.
	localLimiters map[string]*timedLimiter
	localConfig   configuration.LocalRateLimitConfig
	// limiterMinTTL is computed once from the refill rate; see
	// LimiterTTLMultiplier.
	limiterMinTTL time.Duration

	globalClient *redis.Client
	globalConfig configuration.GlobalRateLimitConfig

	// cleanupMu serializes Start and Stop.
	cleanupMu     sync.Mutex
	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
	cleanupDone   sync.WaitGroup

	logger *slog.Logger
}

// NewRateLimitMiddlewareWithRedis builds the dual-layer rate limiting
// middleware. A nil client with global limiting enabled makes the middleware
// dial Redis itself from the config; if that dial fails it starts in degraded
// mode rather than failing construction. The background cleanup goroutine is
// started here and runs for the life of the process.
func NewRateLimitMiddlewareWithRedis(
	cfg *configuration.RateLimitConfig,
	client *redis.Client,
) (transport.Middleware, error) {
	if err := validateRateLimitConfig(cfg); err != nil {
		return nil, err
	}

	// A bucket's minimum lifetime is several full refills, floored at an
	// hour so slow buckets are not swept between uses.
	var limiterMinTTL time.Duration
	if cfg.Local.TokensPerSecond > 0 {
		refillTime := time.Duration(float64(cfg.Local.BurstSize)/cfg.Local.TokensPerSecond) * time.Second
		limiterMinTTL = refillTime * LimiterTTLMultiplier
	}
	if limiterMinTTL < time.Hour {
		limiterMinTTL = time.Hour
	}

	rlm := &rateLimitMiddleware{
		localLimiters: make(map[string]*timedLimiter),
		localConfig:   cfg.Local,
		limiterMinTTL: limiterMinTTL,
		// Copied field by field: the config struct carries an atomic.Bool,
		// and this instance needs its own flag, not a copy of the caller's.
		globalConfig: configuration.GlobalRateLimitConfig{
			Enabled:           cfg.Global.Enabled,
			RequestsPerSecond: cfg.Global.RequestsPerSecond,
			RedisAddr:         cfg.Global.RedisAddr,
			RedisPassword:     cfg.Global.RedisPassword,
			RedisDB:           cfg.Global.RedisDB,
			ConnectTimeout:    cfg.Global.ConnectTimeout,
			DegradedMode:      atomic.Bool{},
		},
		logger: slog.Default().With("component", "ratelimit"),
	}

	if cfg.Global.Enabled {
		if client == nil {
			client = redis.NewClient(&redis.Options{
				Addr:         cfg.Global.RedisAddr,
				Password:     cfg.Global.RedisPassword,
				DB:           cfg.Global.RedisDB,
				DialTimeout:  cfg.Global.ConnectTimeout,
				ReadTimeout:  redisReadTimeout,
				WriteTimeout: redisWriteTimeout,
				PoolSize:     redisPoolSize,
			})

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Global.ConnectTimeout)
			defer cancel()

			if err := client.Ping(ctx).Err(); err != nil {
				rlm.logger.Warn("Redis connection failed, using local-only rate limiting", "error", err)
				rlm.globalConfig.DegradedMode.Store(true)
			}
		}
		rlm.globalClient = client
	}

	rlm.Start()

	return rlm.middleware(), nil
}

// middleware returns the transport.Middleware that runs both limiter layers
// in front of the wrapped handler. Order matters: the local bucket is checked
// first because it is cheap and in-process, the Redis window second. When the
// global layer has degraded and no local layer exists, a fallback bucket
// keeps the pipeline from running unthrottled.
func (r *rateLimitMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			key := r.buildKey(req)

			if r.localConfig.Enabled {
				if err := checkLocalLimit(r, key); err != nil {
					return nil, err
				}
			}

			if r.globalConfig.Enabled && !r.globalConfig.DegradedMode.Load() {
				if err := r.handleGlobalLimit(ctx, key); err != nil {
					return nil, err
				}
			}

			// Degraded with local limiting off: never fail open.
			if r.globalConfig.Enabled && r.globalConfig.DegradedMode.Load() && !r.localConfig.Enabled {
				if err := checkFallbackLimit(r, key); err != nil {
					return nil, err
				}
			}

			return next.Handle(ctx, req)
		})
	}
}

// buildKey derives the limiter key from request metadata. Sessions act as
// tenants, so each chat session gets its own buckets per provider, model,
// and operation.
func (r *rateLimitMiddleware) buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s:%s", req.TenantID, req.Provider, req.Model, req.Operation)
}

// handleGlobalLimit runs the Redis check and absorbs Redis infrastructure
// failures. A genuine rate-limit denial is returned as-is; a Redis outage
// flips degraded mode and, when no local layer exists, falls through to the
// fallback bucket instead.
func (r *rateLimitMiddleware) handleGlobalLimit(ctx context.Context, key string) error {
	err := checkGlobalLimit(r, ctx, key)
	if err == nil {
		return nil
	}

	if !r.isRedisError(err) {
		return err
	}

	r.logger.Warn("Redis error, switching to degraded mode", "error", err)
	r.globalConfig.DegradedMode.Store(true)

	if !r.localConfig.Enabled {
		return checkFallbackLimit(r, key)
	}

	return nil
}

// getOrCreateLimiter returns the bucket for key, creating it on first use.
// Double-checked locking keeps the hot path on the read lock. The last-used
// timestamp is touched while a lock is held so the cleanup sweep, which takes
// the write lock, cannot delete a bucket between lookup and touch.
func (r *rateLimitMiddleware) getOrCreateLimiter(key string) *rate.Limiter {
	now := time.Now().UnixNano()

	r.localMu.RLock()
	if tl, ok := r.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		lim := tl.limiter
		r.localMu.RUnlock()
		return lim
	}
	r.localMu.RUnlock()

	r.localMu.Lock()
	if tl, ok := r.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		lim := tl.limiter
		r.localMu.Unlock()
		return lim
	}

	lim := rate.NewLimiter(rate.Limit(r.localConfig.TokensPerSecond), r.localConfig.BurstSize)
	tl := &timedLimiter{limiter: lim}
	tl.lastUsed.Store(now)
	tl.exhausted.Store(false)
	r.localLimiters[key] = tl
	r.localMu.Unlock()
	return lim
}

// isRedisError reports whether err looks like limiter infrastructure trouble
// (Redis protocol errors, timeouts, network failures) rather than an
// application error. Only infrastructure trouble justifies degraded mode.
func (r *rateLimitMiddleware) isRedisError(err error) bool {
	if err == nil {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// CleanupStale ages out local limiters not touched since before minus the
// bucket's minimum TTL. A bucket still holding its full burst and never
// denied is deleted outright. Anything else keeps an empty bucket behind:
// deleting it would hand the next request a fresh burst, turning cleanup
// into a rate-limit reset.
func (r *rateLimitMiddleware) CleanupStale(before time.Time) {
	r.localMu.Lock()
	defer r.localMu.Unlock()

	cutoff := before.Add(-r.limiterMinTTL).UnixNano()

	for key, tl := range r.localLimiters {
		if tl.lastUsed.Load() < cutoff {
			reservation := tl.limiter.Reserve()
			hasFullCapacity := reservation.OK() && reservation.Delay() == 0
			reservation.Cancel()

			if hasFullCapacity && !tl.exhausted.Load() {
				delete(r.localLimiters, key)
			} else {
				tl.exhausted.Store(true)
				tl.limiter = rate.NewLimiter(rate.Limit(r.localConfig.TokensPerSecond), 0)
			}
		}
	}
}

// GetStats snapshots limiter state: bucket count, operating mode, and the
// Redis pool counters when a global client exists.
func (r *rateLimitMiddleware) GetStats() (*Stats, error) {
	r.localMu.RLock()
	localCount := len(r.localLimiters)
	r.localMu.RUnlock()

	stats := &Stats{
		LocalLimiters: localCount,
		GlobalEnabled: r.globalConfig.Enabled,
		DegradedMode:  r.globalConfig.DegradedMode.Load(),
	}

	if r.globalClient != nil {
		poolStats := r.globalClient.PoolStats()
		stats.PoolHits = poolStats.Hits
		stats.PoolMisses = poolStats.Misses
		stats.PoolTimeouts = poolStats.Timeouts
		stats.PoolTotalConns = poolStats.TotalConns
		stats.PoolIdleConns = poolStats.IdleConns
		stats.PoolStaleConns = poolStats.StaleConns
	}

	return stats, nil
}

// Start launches the background cleanup goroutine. Idempotent: a second call
// while running is a no-op.
func (r *rateLimitMiddleware) Start() {
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()

	if r.cleanupTicker != nil {
		return
	}

	r.cleanupStop = make(chan struct{})
	r.cleanupTicker = time.NewTicker(CleanupInterval)

	r.cleanupDone.Add(1)
	go r.cleanupLoop()

	r.logger.Info("rate limit cleanup started", "interval", CleanupInterval)
}

// Stop halts the cleanup goroutine and waits for it to exit. Idempotent, and
// Start may be called again afterwards.
func (r *rateLimitMiddleware) Stop() {
	r.cleanupMu.Lock()
	defer r.cleanupMu.Unlock()

	if r.cleanupTicker == nil {
		return
	}

	close(r.cleanupStop)
	r.cleanupTicker.Stop()
	r.cleanupDone.Wait()

	r.cleanupTicker = nil
	r.logger.Info("rate limit cleanup stopped")
}

func (r *rateLimitMiddleware) cleanupLoop() {
	defer r.cleanupDone.Done()

	for {
		select {
		case <-r.cleanupTicker.C:
			cutoff := time.Now().Add(-LimiterTTL)
			r.CleanupStale(cutoff)
		case <-r.cleanupStop:
			return
		}
	}
}
