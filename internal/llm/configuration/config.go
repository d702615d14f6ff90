// Package configuration holds the settings for the LLM client stack.
// It covers provider endpoints and credentials, resilience parameters for
// retry, rate limiting, circuit breaking, and caching, plus observability
// options, with production defaults and environment variable loading.
package configuration

import (
	"net/http"
	"sync/atomic"
	"time"
)

// Config holds the complete configuration for the LLM client.
type Config struct {
	// HTTP client configuration
	HTTPTimeout time.Duration `json:"http_timeout"`
	HTTPClient  *http.Client  `json:"-"`

	// Provider configurations keyed by provider name.
	Providers map[string]ProviderConfig `json:"providers"`

	// MaxConcurrency bounds concurrent provider calls during fan-out.
	MaxConcurrency int `json:"max_concurrency"`

	// Retry configuration
	Retry RetryConfig `json:"retry"`

	// Circuit breaker configuration
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `json:"rate_limit"`

	// Cache configuration
	Cache CacheConfig `json:"cache"`

	// Observability configuration
	Observability ObservabilityConfig `json:"observability"`
}

// ProviderConfig holds provider-specific configuration and authentication.
// Each supported provider gets an endpoint, credentials, a timeout, and
// optional custom headers.
type ProviderConfig struct {
	Endpoint   string            `json:"endpoint"`
	APIKey     string            `json:"-"` // credentials never serialize
	APIKeyEnv  string            `json:"api_key_env"`
	MaxRetries int               `json:"max_retries"`
	Timeout    time.Duration     `json:"timeout"`
	Headers    map[string]string `json:"headers"`
}

// RetryConfig controls retry behavior for failed LLM calls.
// Exponential backoff with optional full jitter, bounded by a total
// elapsed-time budget across all attempts.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`     // total attempts, first call included
	MaxElapsedTime  time.Duration `json:"max_elapsed_time"` // wall-clock budget across all attempts
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	UseJitter       bool          `json:"use_jitter"` // full jitter over the computed backoff
}

// CircuitBreakerConfig controls circuit breaker behavior per provider.
// Fail-fast thresholds and recovery timing prevent hammering a provider
// that is already down.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`
	SuccessThreshold   int           `json:"success_threshold"`
	OpenTimeout        time.Duration `json:"open_timeout"`
	HalfOpenProbes     int           `json:"half_open_probes"`
	ProbeTimeout       time.Duration `json:"probe_timeout"` // expiry on the cross-instance probe guard
	MaxBreakers        int           `json:"max_breakers"`  // cap on distinct provider:model breakers
	AdaptiveThresholds bool          `json:"adaptive_thresholds"`
}

// RateLimitConfig combines local and global rate limiting strategies.
// In-memory token buckets handle per-instance limits while Redis enforces
// a shared fixed-window limit across instances, with graceful degradation.
type RateLimitConfig struct {
	// Local token bucket configuration
	Local LocalRateLimitConfig `json:"local"`

	// Global Redis-based configuration
	Global GlobalRateLimitConfig `json:"global"`
}

// LocalRateLimitConfig for in-memory token buckets.
type LocalRateLimitConfig struct {
	TokensPerSecond float64 `json:"tokens_per_second"`
	BurstSize       int     `json:"burst_size"`
	Enabled         bool    `json:"enabled"`
}

// GlobalRateLimitConfig for Redis-based fixed window rate limiting.
// DegradedMode is runtime state, not configuration: the limiter flips it when
// Redis becomes unreachable, which also means this struct must never be
// copied by assignment.
type GlobalRateLimitConfig struct {
	Enabled           bool          `json:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second"`
	RedisAddr         string        `json:"redis_addr"`
	RedisPassword     string        `json:"-"`
	RedisDB           int           `json:"redis_db"`
	DegradedMode      atomic.Bool   `json:"-"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
}

// CacheConfig controls Redis-based response caching.
// Cached completions short-circuit repeat requests with the same
// idempotency key, with a staleness ceiling for old entries.
type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	TTL           time.Duration `json:"ttl"`
	MaxAge        time.Duration `json:"max_age"` // hard staleness ceiling, normally a multiple of TTL
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
}

// ObservabilityConfig controls logging and metrics behavior.
// RedactPrompts keeps user meal and health details out of logs.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPort    int    `json:"metrics_port"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	RedactPrompts  bool   `json:"redact_prompts"`
}
