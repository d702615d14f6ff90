package retry

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// retryAfterTimeFormats are the timestamp layouts accepted for Retry-After
// values that arrive as dates rather than second counts.
var retryAfterTimeFormats = []string{
	time.RFC1123, time.RFC1123Z,
	time.RFC822, time.RFC822Z,
	time.RFC850, time.ANSIC,
}

// growExponential walks the backoff sequence out to the given attempt:
// initial, initial*multiplier, initial*multiplier^2, ... capped at max.
func growExponential(initial time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if backoff > max {
			return max
		}
	}
	return backoff
}

// fullJitter draws a uniform delay in [0, d]. Spreading waits across the whole
// interval keeps a fleet of clients that failed together from retrying
// together.
func fullJitter(d time.Duration) time.Duration {
	ms := rand.Int64N(d.Milliseconds() + 1) // #nosec G404 -- scheduling jitter, not security material
	return time.Duration(ms) * time.Millisecond
}

// calculateBackoff picks the wait before the next attempt. A provider-supplied
// Retry-After wins outright; otherwise the exponential sequence applies, with
// full jitter when configured.
func (r *retryMiddleware) calculateBackoff(attempt int, err error) time.Duration {
	// Sanitize before growing: a zero interval would spin hot and a
	// sub-one multiplier would shrink the sequence instead of growing it.
	initial := r.config.InitialInterval
	if initial <= 0 {
		initial = time.Millisecond
	}
	multiplier := r.config.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	backoff := growExponential(initial, multiplier, r.config.MaxInterval, attempt)
	if r.config.UseJitter {
		backoff = fullJitter(backoff)
	}

	if retryAfter := r.extractRetryAfter(err); retryAfter > 0 {
		return retryAfter
	}
	return backoff
}

// calculatePureExponentialBackoff ignores any Retry-After guidance. The retry
// loop falls back to it when the provider's requested wait would blow the
// MaxElapsedTime budget.
func (r *retryMiddleware) calculatePureExponentialBackoff(attempt int) time.Duration {
	backoff := growExponential(r.config.InitialInterval, r.config.Multiplier, r.config.MaxInterval, attempt)
	if r.config.UseJitter {
		return fullJitter(backoff)
	}
	return backoff
}

// extractRetryAfter pulls a provider-specified wait out of err, checking the
// RetryAfterProvider interface first and then each concrete error type that
// can carry one. Returns zero when the error carries no guidance.
func (r *retryMiddleware) extractRetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}

	var rateLimitErr *llmerrors.RateLimitError
	if errors.As(err, &rateLimitErr) && rateLimitErr.RetryAfter > 0 {
		return time.Duration(rateLimitErr.RetryAfter) * time.Second
	}

	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) && providerErr.RetryAfter > 0 {
		return time.Duration(providerErr.RetryAfter) * time.Second
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) && workflowErr.Details != nil {
		if raw, ok := workflowErr.Details["retry_after"]; ok {
			return r.parseRetryAfterValue(raw)
		}
	}

	return 0
}

// parseRetryAfterValue converts the loosely-typed retry_after detail into a
// duration. Numbers count seconds; strings may be a second count or any of the
// timestamp layouts providers are known to emit.
func (r *retryMiddleware) parseRetryAfterValue(value any) time.Duration {
	switch v := value.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	case time.Duration:
		return v
	case string:
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
		for _, format := range retryAfterTimeFormats {
			if t, err := time.Parse(format, v); err == nil {
				return untilNonNegative(t)
			}
		}
		// RFC850 dates without an explicit zone parse against local time.
		if t, err := time.ParseInLocation(time.RFC850, v, time.Local); err == nil {
			return untilNonNegative(t)
		}
	}
	return 0
}

// untilNonNegative measures the wait until t, treating past timestamps as
// "retry now" rather than a negative sleep.
func untilNonNegative(t time.Time) time.Duration {
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return d
}

// ExponentialBackoff computes the delay for the given attempt number from the
// config's interval, multiplier, and cap. Attempts at or below zero wait
// nothing. Once the sequence overshoots MaxInterval the cap is returned as-is;
// jitter only randomizes delays still inside the growth phase.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxInterval {
			return config.MaxInterval
		}
	}

	if config.UseJitter {
		return fullJitter(backoff)
	}
	return backoff
}

// CalculateJitter stretches base by a random amount up to factor of itself.
// A factor at or below zero leaves base untouched; factors above one clamp to
// one, so the result never exceeds double the base.
func CalculateJitter(base time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return base
	}
	if factor > 1 {
		factor = 1
	}

	jitter := rand.Float64() * float64(base) * factor // #nosec G404 -- scheduling jitter, not security material
	return base + time.Duration(jitter)
}
