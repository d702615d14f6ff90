// Package llm provides a resilient client for the LLM providers that compete
// in an evaluation. One call fans out to every configured provider through a
// shared middleware pipeline: observability, success-only response caching,
// per-provider circuit breaking, retry with exponential backoff, and dual
// local/Redis rate limiting wrap a core HTTP handler. Provider adapters
// translate the normalized request shape to each vendor's wire format.
//
// Redis-backed layers degrade gracefully: when Redis is unreachable the cache
// passes through and rate limiting falls back to local-only, so the request
// path never depends on Redis being up.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/llm/business"
	"github.com/ahrav/go-mealmatch/internal/llm/cache"
	"github.com/ahrav/go-mealmatch/internal/llm/circuitbreaker"
	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/providers"
	"github.com/ahrav/go-mealmatch/internal/llm/ratelimit"
	"github.com/ahrav/go-mealmatch/internal/llm/resilience"
	"github.com/ahrav/go-mealmatch/internal/llm/retry"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// Summarization parameters. Summaries stay short and factual, so the token
// ceiling is low and the temperature conservative.
const (
	DefaultSummaryMaxTokens   = int64(300)
	DefaultSummaryTemperature = 0.3
)

// Client is the provider-facing capability of the evaluation system.
// Generate fans one prompt out to every configured provider and collects
// per-provider successes and failures; Summarize folds conversation turns
// into a rolling summary for the memory collaborator.
type Client interface {
	// Generate requests one response from each configured provider for the
	// prompt in the input. It blocks until every provider call has completed
	// or failed; partial results are never returned early. Provider failures
	// are reported in the output, not as a returned error.
	Generate(ctx context.Context, in domain.GenerateResponsesInput) (*domain.GenerateResponsesOutput, error)

	// Summarize produces a new rolling summary covering the existing summary
	// and the new conversation lines.
	Summarize(ctx context.Context, in domain.SummarizeInput) (*domain.SummarizeOutput, error)
}

// client implements Client with the full middleware pipeline.
type client struct {
	config  *configuration.Config
	router  transport.Router
	handler transport.Handler
}

// NewClient builds the client and its middleware pipeline from configuration.
// The chain, outermost first: observability, cache, circuit breaker, then
// retry wrapping the attempt-level rate limit and the core HTTP handler.
// Rate limiting sits inside retry so each attempt is limited individually;
// the circuit breaker sits outside retry so exhausted retries count as a
// single failure against the breaker.
func NewClient(ctx context.Context, cfg *configuration.Config) (Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpTransport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          configuration.DefaultMaxIdleConns,
			IdleConnTimeout:       configuration.DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout:   configuration.DefaultTLSTimeoutSeconds * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		httpClient = &http.Client{
			Transport: httpTransport,
			Timeout:   cfg.HTTPTimeout,
		}
	}

	coreHandler := transport.NewHTTPHandler(httpClient, router, business.NewResponseValidator())

	// Attempt-level middleware runs once per retry attempt.
	var attemptMiddlewares []transport.Middleware

	if cfg.RateLimit.Local.Enabled || cfg.RateLimit.Global.Enabled {
		rlMiddleware, err := ratelimit.NewRateLimitMiddlewareWithRedis(&cfg.RateLimit, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		attemptMiddlewares = append(attemptMiddlewares, rlMiddleware)
	}

	attemptHandler := transport.Chain(coreHandler, attemptMiddlewares...)

	retryMiddleware, err := retry.NewRetryMiddlewareWithConfig(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}
	retryHandler := retryMiddleware(attemptHandler)

	// Call-level middleware runs once per logical call.
	var callMiddlewares []transport.Middleware

	if cfg.Observability.MetricsEnabled {
		obsMiddleware, err := resilience.NewObservabilityMiddleware()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize observability middleware: %w", err)
		}
		callMiddlewares = append(callMiddlewares, obsMiddleware)
	}

	if cfg.Cache.Enabled {
		cacheMiddleware, err := cache.NewCacheMiddlewareWithRedis(ctx, cfg.Cache, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		callMiddlewares = append(callMiddlewares, cacheMiddleware)
	}

	cbMiddleware, err := circuitbreaker.NewCircuitBreakerMiddlewareWithRedis(cfg.CircuitBreaker, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}
	callMiddlewares = append(callMiddlewares, cbMiddleware)

	handler := transport.Chain(retryHandler, callMiddlewares...)

	return &client{
		config:  cfg,
		router:  router,
		handler: handler,
	}, nil
}

// NewClientWithHandler builds a client around a caller-supplied handler,
// bypassing middleware assembly. Used by tests to substitute a stub transport.
func NewClientWithHandler(cfg *configuration.Config, handler transport.Handler) Client {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	return &client{config: cfg, handler: handler}
}
