package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

// MinRetryAfterSeconds floors every retry-after hint so denied callers never
// spin in a sub-second retry loop.
const MinRetryAfterSeconds = 1

const (
	redisReadTimeout  = 5 * time.Second
	redisWriteTimeout = 5 * time.Second
	redisPoolSize     = 10

	// fixedWindowMillis is the width of the global counting window.
	fixedWindowMillis = 1000

	// maxRetryAfterSeconds caps the retry-after hint at an hour in case
	// Redis reports a nonsensical TTL.
	maxRetryAfterSeconds = 3600
)

// fixedWindowScript counts requests in a fixed window, atomically. One round
// trip covers counter creation, increment, and TTL repair, so concurrent
// workers sharing the window cannot race the counter into a bad state.
// Returns {1, remaining} when allowed, {0, millisToReset} when denied.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		local ttl = redis.call('PTTL', key)
		if ttl == -1 then
			-- Key lost its TTL somehow; restore the window expiry.
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	else
		local ttl = redis.call('PTTL', key)
		return {0, ttl}
	end
`)

// checkGlobalLimit enforces the shared per-second window in Redis. Responses
// the script shape does not explain are treated like an outage: degraded
// mode is flipped and the request is allowed through to the local layer. A
// genuine denial converts the window's remaining TTL into retry-after
// seconds, clamped to [MinRetryAfterSeconds, maxRetryAfterSeconds].
func checkGlobalLimit(r *rateLimitMiddleware, ctx context.Context, key string) error {
	if r.globalClient == nil {
		return nil
	}

	globalKey := fmt.Sprintf("rl:global:%s", key)
	limit := int64(r.globalConfig.RequestsPerSecond)

	// Config validation already rejects negatives; re-checking here keeps a
	// mutated runtime value from being handed to the script.
	if limit < 0 {
		r.logger.Error("negative global rate limit detected at runtime", "limit", limit)
		return fmt.Errorf("%w (got %d)", errNegativeRequestsPerSecond, limit)
	}

	// Zero means the global layer is configured but switched off.
	if limit == 0 {
		return nil
	}

	result, err := fixedWindowScript.Run(ctx, r.globalClient, []string{globalKey},
		int64(fixedWindowMillis), limit).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		r.logger.Warn("invalid Redis response format, switching to degraded mode", "response", result)
		r.globalConfig.DegradedMode.Store(true)
		return nil
	}

	allowed, ok := res[0].(int64)
	if !ok {
		r.logger.Warn("invalid Redis allowed value format, switching to degraded mode", "allowed", res[0])
		r.globalConfig.DegradedMode.Store(true)
		return nil
	}

	if allowed == 0 {
		retryAfterMs, ok := res[1].(int64)
		if !ok || retryAfterMs <= 0 {
			retryAfterMs = int64(time.Second / time.Millisecond)
		}

		retryAfterSecs := int(time.Duration(retryAfterMs) * time.Millisecond / time.Second)
		if retryAfterSecs < MinRetryAfterSeconds {
			retryAfterSecs = MinRetryAfterSeconds
		}
		if retryAfterSecs > maxRetryAfterSeconds {
			retryAfterSecs = maxRetryAfterSeconds
		}

		return &llmerrors.RateLimitError{
			Provider:   "global",
			Limit:      int(limit),
			RetryAfter: retryAfterSecs,
		}
	}

	return nil
}
