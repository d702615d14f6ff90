// Package retry provides the retry middleware for LLM provider calls.
// It implements exponential backoff with full jitter, honors provider
// Retry-After guidance, and caps total retry time so a slow provider cannot
// stall an evaluation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
	errAllRetriesExhausted         = errors.New("all retries exhausted")
	errUnexpectedRetryExhaustion   = errors.New("unexpected retry exhaustion")
)

// retryMiddleware re-issues failed provider calls under the configured policy.
// One instance is shared by every request flowing through the middleware, so
// its statistics describe the whole client, not a single call.
type retryMiddleware struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  *retryStats
}

// RetryAfterProvider is implemented by errors that carry an explicit wait
// requested by the server. The retry loop honors it over its own backoff so
// backpressure from a provider is respected rather than guessed at.
type RetryAfterProvider interface {
	// GetRetryAfter returns the wait the server asked for, or zero when the
	// error carries none.
	GetRetryAfter() time.Duration
}

// NewRetryMiddlewareWithConfig validates cfg and returns the retry middleware.
// The config is rejected up front rather than at call time: a malformed retry
// policy discovered mid-request would otherwise surface as mysterious delays.
func NewRetryMiddlewareWithConfig(cfg configuration.RetryConfig) (transport.Middleware, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v", errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.MaxElapsedTime < 0 {
		return nil, fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, cfg.MaxElapsedTime)
	}

	return newRetryMiddleware(cfg).middleware(), nil
}

func newRetryMiddleware(cfg configuration.RetryConfig) *retryMiddleware {
	return &retryMiddleware{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		stats:  &retryStats{},
	}
}

// middleware returns the wrapping function that drives the attempt loop.
func (r *retryMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			var lastErr error
			var lastResp *transport.Response
			startTime := time.Now()

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, ctx.Err())
			default:
			}

			// A half-open probe exists to answer "is the provider back?".
			// Retrying a probe would turn one question into several and
			// defeat the breaker's slow reopening.
			maxAttempts := r.config.MaxAttempts
			if transport.IsHalfOpenProbe(ctx) {
				maxAttempts = 1
			}

			for attempt := 1; attempt <= maxAttempts; attempt++ {
				if r.config.MaxElapsedTime > 0 && time.Since(startTime) > r.config.MaxElapsedTime {
					r.warnBudgetExceeded(time.Since(startTime), attempt-1, lastErr)
					break
				}

				resp, err := next.Handle(ctx, req)
				r.stats.totalAttempts.Add(1)

				// Partial responses ride along with the error; whoever
				// handles the failure may want what the provider did return.
				if resp != nil {
					lastResp = resp
				}

				if err == nil {
					if attempt > 1 {
						r.stats.successfulRetries.Add(1)
						r.logger.Info("request succeeded after retry",
							"attempt", attempt,
							"provider", req.Provider,
							"model", req.Model)
					} else {
						r.stats.successfulFirstAttempts.Add(1)
					}
					return resp, nil
				}

				if !r.isRetryable(err) {
					r.logger.Debug("non-retryable error",
						"error", err,
						"attempt", attempt,
						"provider", req.Provider)
					return lastResp, err
				}

				lastErr = err

				if attempt == maxAttempts {
					break
				}

				backoff := r.calculateBackoff(attempt, err)
				r.recordBackoffMetrics(backoff)

				if r.config.MaxElapsedTime > 0 {
					if elapsed := time.Since(startTime); elapsed+backoff > r.config.MaxElapsedTime {
						shorter, ok := r.fitBackoffToBudget(attempt, err, elapsed)
						if !ok {
							r.warnBudgetExceeded(elapsed, attempt, err)
							break
						}
						backoff = shorter
					}
				}

				r.logger.Debug("retrying after backoff",
					"attempt", attempt,
					"backoff", backoff,
					"error", err,
					"provider", req.Provider)

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, ctx.Err())
				}
			}

			if lastErr != nil {
				r.stats.failedRetries.Add(1)
				return lastResp, fmt.Errorf("%w after %d attempts: %w",
					errAllRetriesExhausted, maxAttempts, lastErr)
			}

			return nil, errUnexpectedRetryExhaustion
		})
	}
}

// fitBackoffToBudget is consulted when the chosen backoff would overrun
// MaxElapsedTime. A provider Retry-After that is too long gets replaced with
// plain exponential backoff when that still fits; otherwise the second return
// is false and the loop gives up.
func (r *retryMiddleware) fitBackoffToBudget(attempt int, err error, elapsed time.Duration) (time.Duration, bool) {
	if r.extractRetryAfter(err) <= 0 {
		return 0, false
	}
	backoff := r.calculatePureExponentialBackoff(attempt)
	if elapsed+backoff > r.config.MaxElapsedTime {
		return 0, false
	}
	return backoff, true
}

func (r *retryMiddleware) warnBudgetExceeded(elapsed time.Duration, attempts int, lastErr error) {
	r.logger.Warn("max elapsed time exceeded",
		"elapsed", elapsed,
		"attempts", attempts,
		"last_error", lastErr)
}

// isRetryable classifies err. Concrete error types are inspected before the
// RetryAfterProvider interface so that, say, an open breaker that also happens
// to carry a retry hint still short-circuits.
func (r *retryMiddleware) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var circuitBreakerErr *llmerrors.CircuitBreakerError
	if errors.As(err, &circuitBreakerErr) {
		// Retrying into an open breaker only delays recovery.
		return false
	}

	var rateLimitErr *llmerrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Retryable
	}

	// Empty completions are provider hiccups worth one more try.
	if errors.Is(err, llmerrors.ErrEmptyCompletion) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return true
	}

	return false
}

// isNetworkError reports whether err looks like a transport-level failure.
// Typed checks run first; the string scan is a last resort for errors that
// arrive flattened through fmt.Errorf without wrapping.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return containsNetworkErrorText(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return containsNetworkErrorText(err.Error())
}

// networkErrorIndicators are lowercase substrings that mark an error message
// as network-related when no typed information survived.
var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}

func containsNetworkErrorText(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}
