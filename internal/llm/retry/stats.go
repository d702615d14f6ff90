package retry

import (
	"sync/atomic"
	"time"
)

// retryStats is the middleware's live counter set. Everything is atomic;
// requests on different goroutines bump these concurrently.
type retryStats struct {
	totalAttempts           atomic.Int64
	successfulRetries       atomic.Int64 // succeeded, but only after retrying
	failedRetries           atomic.Int64 // exhausted every attempt
	successfulFirstAttempts atomic.Int64
	maxBackoff              atomic.Int64 // nanoseconds
}

// RetryStats is a point-in-time snapshot of retry behavior, suitable for
// logging or an ops endpoint.
type RetryStats struct {
	// TotalAttempts counts every provider call made, first tries included.
	TotalAttempts int64 `json:"total_attempts"`
	// SuccessfulRetries counts requests that needed at least one retry to succeed.
	SuccessfulRetries int64 `json:"successful_retries"`
	// FailedRetries counts requests that failed even after all attempts.
	FailedRetries int64 `json:"failed_retries"`
	// AverageAttempts is TotalAttempts spread over completed requests.
	// A healthy provider keeps this near 1.
	AverageAttempts float64 `json:"average_attempts"`
	// MaxBackoff is the longest single wait any request has slept so far.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// recordBackoffMetrics folds one backoff duration into the running maximum.
func (r *retryMiddleware) recordBackoffMetrics(backoff time.Duration) {
	nanos := backoff.Nanoseconds()
	for {
		current := r.stats.maxBackoff.Load()
		if nanos <= current {
			return
		}
		if r.stats.maxBackoff.CompareAndSwap(current, nanos) {
			return
		}
		// Another goroutine moved the max; reload and compare again.
	}
}

// GetRetryStats snapshots the counters. The fields are read individually, so
// a snapshot taken under heavy traffic can be momentarily inconsistent with
// itself; for monitoring purposes that is fine.
func (r *retryMiddleware) GetRetryStats() *RetryStats {
	totalAttempts := r.stats.totalAttempts.Load()
	successfulRetries := r.stats.successfulRetries.Load()
	failedRetries := r.stats.failedRetries.Load()

	averageAttempts := 1.0
	completed := r.stats.successfulFirstAttempts.Load() + successfulRetries + failedRetries
	if completed > 0 {
		averageAttempts = float64(totalAttempts) / float64(completed)
	}

	return &RetryStats{
		TotalAttempts:     totalAttempts,
		SuccessfulRetries: successfulRetries,
		FailedRetries:     failedRetries,
		AverageAttempts:   averageAttempts,
		MaxBackoff:        time.Duration(r.stats.maxBackoff.Load()),
	}
}
