package configuration

import (
	"time"
)

// HTTP transport defaults.
const (
	DefaultMaxIdleConns        = 100
	DefaultIdleTimeoutSeconds  = 90
	DefaultTLSTimeoutSeconds   = 10
	DefaultHTTPTimeoutSeconds  = 30
	ServerErrorStatusThreshold = 500
)

// Resilience defaults shared by the retry and circuit breaker middleware.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultFailureThreshold  = 5
	DefaultSuccessThreshold  = 2
	DefaultOpenTimeout       = 30 * time.Second
	DefaultProbeTimeout      = 60 * time.Second // Redis probe guard expiry
	DefaultMaxBreakers       = 1000             // cap on distinct provider:model breakers
)

// Rate limit defaults.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
	DefaultConnectTimeout  = 5 * time.Second
)

// Cache and observability defaults.
const (
	DefaultCacheTTL         = 24 * time.Hour
	DefaultCacheMaxAgeRatio = 7 // entries older than 7x TTL are stale even if present
	DefaultMetricsPort      = 9090
)

// DefaultMaxConcurrency bounds simultaneous provider calls during fan-out.
// Two providers per evaluation leaves headroom for concurrent sessions.
const DefaultMaxConcurrency = 5

// DefaultConfig returns a production-ready configuration.
// The settings balance resilience and throughput and work without further
// tuning; callers supply provider credentials on top.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout:    DefaultHTTPTimeoutSeconds * time.Second,
		MaxConcurrency: DefaultMaxConcurrency,
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: DefaultSuccessThreshold,
			OpenTimeout:      DefaultOpenTimeout,
			HalfOpenProbes:   1,
			ProbeTimeout:     DefaultProbeTimeout,
			MaxBreakers:      DefaultMaxBreakers,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
				Enabled:         true,
			},
			Global: GlobalRateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: DefaultTokensPerSecond, // Use same default as local
				ConnectTimeout:    DefaultConnectTimeout,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     DefaultCacheTTL,
			MaxAge:  DefaultCacheMaxAgeRatio * DefaultCacheTTL,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPort:    DefaultMetricsPort,
			LogLevel:       "info",
			LogFormat:      "json",
			RedactPrompts:  true,
		},
	}
}
