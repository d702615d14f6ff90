package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// DefaultRateLimit is the rate and burst of the emergency fallback bucket,
// used only when Redis has degraded and local limiting is disabled.
const DefaultRateLimit = 10

// checkFallbackLimit throttles through a conservative last-resort bucket.
// It exists to close the fail-open gap: global limiting degraded, local
// limiting never enabled, yet provider traffic must still be bounded.
// Fallback buckets live in the same map as local ones (under a "fallback:"
// prefix) so the cleanup sweep ages them out too.
func checkFallbackLimit(r *rateLimitMiddleware, key string) error {
	lim := r.fallbackLimiter(fmt.Sprintf("fallback:%s", key))

	if !lim.Allow() {
		return &llmerrors.RateLimitError{
			Provider:   "fallback",
			Limit:      DefaultRateLimit,
			RetryAfter: retryAfterSeconds(lim),
		}
	}

	return nil
}

// fallbackLimiter returns the fallback bucket for key, creating it with the
// default rate on first use. Same double-checked locking shape as
// getOrCreateLimiter; the two differ only in where the bucket's rate comes
// from.
func (r *rateLimitMiddleware) fallbackLimiter(key string) *rate.Limiter {
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

	lim := rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit)
	tl := &timedLimiter{limiter: lim}
	tl.lastUsed.Store(now)
	r.localLimiters[key] = tl
	r.localMu.Unlock()
	return lim
}
