package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// newTestMiddleware builds a rateLimitMiddleware without Redis setup so tests
// control connectivity themselves. It mirrors the initialization performed by
// NewRateLimitMiddlewareWithRedis, minus client creation and cleanup startup.
func newTestMiddleware(cfg *configuration.RateLimitConfig) *rateLimitMiddleware {
	var limiterMinTTL time.Duration
	if cfg.Local.TokensPerSecond > 0 {
		refillTime := time.Duration(float64(cfg.Local.BurstSize)/cfg.Local.TokensPerSecond) * time.Second
		limiterMinTTL = refillTime * LimiterTTLMultiplier
	}
	if limiterMinTTL < time.Hour {
		limiterMinTTL = time.Hour
	}

	return &rateLimitMiddleware{
		localLimiters: make(map[string]*timedLimiter),
		localConfig:   cfg.Local,
		limiterMinTTL: limiterMinTTL,
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
}

func localOnlyConfig(tokensPerSecond float64, burst int) *configuration.RateLimitConfig {
	return &configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{
			TokensPerSecond: tokensPerSecond,
			BurstSize:       burst,
			Enabled:         true,
		},
		Global: configuration.GlobalRateLimitConfig{Enabled: false},
	}
}

func TestCheckLocalLimit_BurstThenDeny(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(1, 3))
	key := "tenant:openai:gpt-4-turbo:generation"

	for i := 0; i < 3; i++ {
		require.NoError(t, checkLocalLimit(rlm, key), "request %d should fit in burst", i+1)
	}

	err := checkLocalLimit(rlm, key)
	require.Error(t, err, "request beyond burst should be limited")

	var rlErr *llmerrors.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "local", rlErr.Provider)
	assert.GreaterOrEqual(t, rlErr.RetryAfter, 1, "retry-after floor is one second")
}

func TestCheckLocalLimit_PerKeyIsolation(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(1, 1))

	require.NoError(t, checkLocalLimit(rlm, "tenant-a:openai:gpt-4-turbo:generation"))
	require.Error(t, checkLocalLimit(rlm, "tenant-a:openai:gpt-4-turbo:generation"))

	// A different key owns its own bucket and is unaffected.
	require.NoError(t, checkLocalLimit(rlm, "tenant-b:anthropic:claude-3-opus-20240229:generation"))
}

func TestMiddleware_LocalDisabledSkipsLocalCheck(t *testing.T) {
	cfg := &configuration.RateLimitConfig{
		Local:  configuration.LocalRateLimitConfig{Enabled: false},
		Global: configuration.GlobalRateLimitConfig{Enabled: false},
	}
	rlm := newTestMiddleware(cfg)

	var calls int
	handler := rlm.middleware()(transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			calls++
			return &transport.Response{Content: "ok"}, nil
		}))

	req := &transport.Request{
		Operation: transport.OpGeneration,
		Provider:  "openai",
		Model:     "gpt-4-turbo",
		TenantID:  "tenant",
	}
	for i := 0; i < 20; i++ {
		_, err := handler.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, calls, "all requests pass through with limiting disabled")
}

func TestBuildKey_Format(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(10, 5))
	req := &transport.Request{
		Operation: transport.OpSummary,
		Provider:  "anthropic",
		Model:     "claude-3-opus-20240229",
		TenantID:  "session-42",
	}
	assert.Equal(t, "session-42:anthropic:claude-3-opus-20240229:summary", rlm.buildKey(req))
}

// Cleanup must never hand a previously exhausted key a fresh bucket; that
// would let a caller bypass the limit by waiting for the cleanup tick.
func TestCleanupStale_PreservesExhaustedState(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(1, 3))
	key := "tenant:openai:gpt-4-turbo:generation"

	allowed := 0
	for i := 0; i < 10; i++ {
		if checkLocalLimit(rlm, key) == nil {
			allowed++
		}
	}
	require.Equal(t, 3, allowed, "burst capacity bounds the first phase")

	// Age the limiter past the TTL and run cleanup.
	rlm.localMu.Lock()
	rlm.localLimiters[key].lastUsed.Store(time.Now().Add(-2 * rlm.limiterMinTTL).UnixNano())
	rlm.localMu.Unlock()
	rlm.CleanupStale(time.Now())

	for i := 0; i < 10; i++ {
		if checkLocalLimit(rlm, key) == nil {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed, "cleanup must not grant fresh tokens to an exhausted key")
}

func TestCleanupStale_RemovesIdleUntouchedLimiters(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(10, 5))

	rlm.getOrCreateLimiter("a:openai:gpt-4-turbo:generation")
	rlm.getOrCreateLimiter("b:anthropic:claude-3-opus-20240229:generation")
	require.Len(t, rlm.localLimiters, 2)

	// Recent limiters survive a cleanup with an old cutoff.
	rlm.CleanupStale(time.Now().Add(-time.Hour))
	assert.Len(t, rlm.localLimiters, 2)

	// With a future cutoff everything is stale; untouched full-capacity
	// limiters are deleted outright.
	rlm.CleanupStale(time.Now().Add(2 * rlm.limiterMinTTL))
	assert.Len(t, rlm.localLimiters, 0)
}

func TestIsRedisError_Classification(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(10, 5))

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: true},
		{name: "net op error", err: &net.OpError{Op: "dial", Err: fmt.Errorf("timeout")}, want: true},
		{name: "redis nil", err: redis.Nil, want: true},
		{name: "application error", err: fmt.Errorf("scoring failed"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rlm.isRedisError(tc.err))
		})
	}
}

func TestGlobalLimit_FixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: false},
		Global: configuration.GlobalRateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 2,
			RedisAddr:         mr.Addr(),
			ConnectTimeout:    time.Second,
		},
	}
	rlm := newTestMiddleware(cfg)
	rlm.globalClient = client

	ctx := context.Background()
	key := "tenant:openai:gpt-4-turbo:generation"

	require.NoError(t, checkGlobalLimit(rlm, ctx, key))
	require.NoError(t, checkGlobalLimit(rlm, ctx, key))

	err := checkGlobalLimit(rlm, ctx, key)
	require.Error(t, err, "third request in the window exceeds the limit")

	var rlErr *llmerrors.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "global", rlErr.Provider)
	assert.Equal(t, 2, rlErr.Limit)
	assert.GreaterOrEqual(t, rlErr.RetryAfter, MinRetryAfterSeconds)

	// A fresh window resets the counter.
	mr.FastForward(1100 * time.Millisecond)
	assert.NoError(t, checkGlobalLimit(rlm, ctx, key))
}

func TestGlobalLimit_ZeroRPSDisablesCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: false},
		Global: configuration.GlobalRateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 0,
			RedisAddr:         mr.Addr(),
		},
	}
	rlm := newTestMiddleware(cfg)
	rlm.globalClient = client

	for i := 0; i < 25; i++ {
		require.NoError(t, checkGlobalLimit(rlm, context.Background(), "k"))
	}
}

func TestGlobalLimit_NegativeRPSRejectedAtRuntime(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rlm := newTestMiddleware(&configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: false},
		Global: configuration.GlobalRateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			RedisAddr:         mr.Addr(),
		},
	})
	rlm.globalClient = client

	// Validation normally rejects this; the runtime guard is the backstop.
	rlm.globalConfig.RequestsPerSecond = -5

	err := checkGlobalLimit(rlm, context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNegativeRequestsPerSecond)
	assert.Contains(t, err.Error(), "-5")
}

func TestMiddleware_DegradesOnRedisFailure(t *testing.T) {
	// Point the global client at a port nothing listens on.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		ReadTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{
			TokensPerSecond: 100,
			BurstSize:       100,
			Enabled:         true,
		},
		Global: configuration.GlobalRateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			RedisAddr:         "127.0.0.1:1",
			ConnectTimeout:    50 * time.Millisecond,
		},
	}
	rlm := newTestMiddleware(cfg)
	rlm.globalClient = client

	handler := rlm.middleware()(transport.HandlerFunc(
		func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return &transport.Response{Content: "ok"}, nil
		}))

	req := &transport.Request{
		Operation: transport.OpGeneration,
		Provider:  "openai",
		Model:     "gpt-4-turbo",
		TenantID:  "tenant",
	}

	resp, err := handler.Handle(context.Background(), req)
	require.NoError(t, err, "local limiter carries the request when Redis is down")
	require.NotNil(t, resp)
	assert.True(t, rlm.globalConfig.DegradedMode.Load(), "Redis failure flips degraded mode")

	// Subsequent requests skip the global check entirely.
	_, err = handler.Handle(context.Background(), req)
	require.NoError(t, err)
}

func TestCheckFallbackLimit_BoundsThroughput(t *testing.T) {
	cfg := &configuration.RateLimitConfig{
		Local:  configuration.LocalRateLimitConfig{Enabled: false},
		Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 100},
	}
	rlm := newTestMiddleware(cfg)

	key := "tenant:openai:gpt-4-turbo:generation"
	allowed := 0
	for i := 0; i < DefaultRateLimit*2; i++ {
		if checkFallbackLimit(rlm, key) == nil {
			allowed++
		}
	}
	assert.Equal(t, DefaultRateLimit, allowed, "fallback bucket caps at the default burst")

	err := checkFallbackLimit(rlm, key)
	var rlErr *llmerrors.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "fallback", rlErr.Provider)
	assert.Equal(t, DefaultRateLimit, rlErr.Limit)
}

func TestValidateRateLimitConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     configuration.RateLimitConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg: configuration.RateLimitConfig{
				Local:  configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 10, BurstSize: 5},
				Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: 100},
			},
		},
		{
			name: "negative tokens per second",
			cfg: configuration.RateLimitConfig{
				Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: -1},
			},
			wantErr: "TokensPerSecond",
		},
		{
			name: "negative burst",
			cfg: configuration.RateLimitConfig{
				Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 1, BurstSize: -1},
			},
			wantErr: "BurstSize",
		},
		{
			name: "burst without rate",
			cfg: configuration.RateLimitConfig{
				Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 0, BurstSize: 3},
			},
			wantErr: "BurstSize must be 0",
		},
		{
			name: "negative global rps",
			cfg: configuration.RateLimitConfig{
				Global: configuration.GlobalRateLimitConfig{Enabled: true, RequestsPerSecond: -10},
			},
			wantErr: "RequestsPerSecond",
		},
		{
			name: "disabled layers skip validation",
			cfg: configuration.RateLimitConfig{
				Local:  configuration.LocalRateLimitConfig{Enabled: false, TokensPerSecond: -1},
				Global: configuration.GlobalRateLimitConfig{Enabled: false, RequestsPerSecond: -1},
			},
		},
	}
	for i := range cases {
		tc := &cases[i]
		t.Run(tc.name, func(t *testing.T) {
			err := validateRateLimitConfig(&tc.cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestGetStats_Baseline(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(10, 5))

	stats, err := rlm.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.LocalLimiters)
	assert.False(t, stats.GlobalEnabled)
	assert.False(t, stats.DegradedMode)

	rlm.getOrCreateLimiter("tenant:openai:gpt-4-turbo:generation")
	stats, err = rlm.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LocalLimiters)
}

func TestStartStop_Idempotent(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(10, 5))

	rlm.Start()
	require.NotNil(t, rlm.cleanupTicker)
	rlm.Start() // no-op

	rlm.Stop()
	assert.Nil(t, rlm.cleanupTicker)
	rlm.Stop() // no-op
}

func TestDegradedMode_AtomicUnderConcurrency(t *testing.T) {
	rlm := newTestMiddleware(&configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: 10, BurstSize: 5},
		Global: configuration.GlobalRateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			RedisAddr:         "invalid:6379",
			ConnectTimeout:    100 * time.Millisecond,
		},
	})

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = rlm.globalConfig.DegradedMode.Load()
				if j%10 == 0 {
					rlm.globalConfig.DegradedMode.Store(true)
				}
			}
		}()
	}
	wg.Wait()

	assert.True(t, rlm.globalConfig.DegradedMode.Load())
}

func TestGetOrCreateLimiter_ReusesExistingBucket(t *testing.T) {
	rlm := newTestMiddleware(localOnlyConfig(5, 2))
	key := "tenant:openai:gpt-4-turbo:generation"

	first := rlm.getOrCreateLimiter(key)
	second := rlm.getOrCreateLimiter(key)
	assert.Same(t, first, second, "same key returns the same limiter")
	assert.Len(t, rlm.localLimiters, 1)
}

func TestNewRateLimitMiddlewareWithRedis_InvalidConfig(t *testing.T) {
	cfg := &configuration.RateLimitConfig{
		Local: configuration.LocalRateLimitConfig{Enabled: true, TokensPerSecond: -1},
	}
	mw, err := NewRateLimitMiddlewareWithRedis(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, mw)
}
