package ratelimit

import (
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// timedLimiter pairs a token bucket with the bookkeeping the cleanup sweep
// needs: an atomically updated last-used timestamp (readable without the map
// lock) and an exhausted flag. Once a bucket has denied a request it is
// marked exhausted and the sweep will empty it instead of deleting it, so
// a stale-but-throttled key never gets a fresh burst by aging out.
type timedLimiter struct {
	limiter   *rate.Limiter
	lastUsed  atomic.Int64
	exhausted atomic.Bool
}

// retryAfterSeconds computes how long a denied caller should wait, in whole
// seconds, floored at one. The probe reservation is cancelled immediately:
// consuming a token for a request that was already denied would leak bucket
// capacity.
func retryAfterSeconds(lim *rate.Limiter) int {
	reservation := lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	retryAfter := int(math.Ceil(delay.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter
}

// checkLocalLimit runs the in-process token bucket for key. Denials mark the
// bucket exhausted and return a RateLimitError with retry timing derived
// from the bucket's refill rate.
func checkLocalLimit(r *rateLimitMiddleware, key string) error {
	limiter := r.getOrCreateLimiter(key)

	if !limiter.Allow() {
		r.localMu.RLock()
		if tl, ok := r.localLimiters[key]; ok {
			tl.exhausted.Store(true)
		}
		r.localMu.RUnlock()

		return &llmerrors.RateLimitError{
			Provider:   "local",
			Limit:      int(r.localConfig.TokensPerSecond),
			RetryAfter: retryAfterSeconds(limiter),
		}
	}

	return nil
}
