package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// atomicCacheHitOrLease decides hit-or-lease in one Redis round trip.
// Corrupt and stale entries are deleted and treated as misses, so a bad
// write can never be served forever. Age is judged against Redis server
// time; client clocks do not participate.
//
// KEYS[1] = cache key, KEYS[2] = lease key
// ARGV[1] = lease TTL seconds, ARGV[2] = max age ms (-1 disables)
// Returns {1, entry} on hit, {2, 0} when the lease was acquired, {0, 0}
// when another holder has the lease. The second element is a placeholder
// on non-hits: Redis truncates a reply array at the first nil, and the
// caller requires two elements.
const atomicCacheHitOrLease = `
	local function evictAndLease()
		redis.call('DEL', KEYS[1])
		local leased = redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[1])
		if leased then return {2, 0} else return {0, 0} end
	end

	local cached = redis.call('GET', KEYS[1])
	if cached then
		-- Cheap shape check before paying for a JSON decode.
		if string.len(cached) < 2 or string.sub(cached, 1, 1) ~= '{' then
			return evictAndLease()
		end

		local maxAgeMs = tonumber(ARGV[2]) or -1
		if maxAgeMs >= 0 then
			local ok, obj = pcall(cjson.decode, cached)
			if not ok or type(obj) ~= 'table' then
				return evictAndLease()
			end

			local storedAt = tonumber(obj["stored_at_ms"])
			if not storedAt then
				return evictAndLease()
			end

			local now = redis.call('TIME')
			local nowMs = now[1] * 1000 + math.floor(now[2] / 1000)
			local age = nowMs - storedAt

			-- Entries from the future are as untrustworthy as expired ones.
			if age < 0 or age > maxAgeMs then
				return evictAndLease()
			end
		end

		return {1, cached}
	end

	local leased = redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[1])
	if leased then return {2, 0} end
	return {0, 0}
`

// cacheStatus is the verdict of one check-and-lease round trip.
type cacheStatus int

const (
	leaseFailed   cacheStatus = 0
	cacheHit      cacheStatus = 1
	leaseAcquired cacheStatus = 2
)

// atomicCheckAndLease runs the hit-or-lease script and decodes its verdict.
// The returned bool reports whether this caller now holds the lease and owes
// a release. Without a Redis client every call pretends to hold the lease,
// which reduces to plain uncached execution.
func (c *cacheMiddleware) atomicCheckAndLease(
	ctx context.Context, cacheKey, leaseKey string, leaseTTL time.Duration,
) (cacheStatus, *transport.Response, bool, error) {
	if c.client == nil {
		return leaseAcquired, nil, true, nil
	}

	maxAgeMs := int64(-1)
	if c.maxAge > 0 {
		maxAgeMs = c.maxAge.Milliseconds()
	}

	result, err := c.client.Eval(ctx, atomicCacheHitOrLease,
		[]string{cacheKey, leaseKey},
		int(leaseTTL.Seconds()), maxAgeMs).Result()
	if err != nil {
		return leaseFailed, nil, false, fmt.Errorf("atomic check-and-lease failed: %w", err)
	}

	resultSlice, ok := result.([]any)
	if !ok || len(resultSlice) != 2 {
		return leaseFailed, nil, false, fmt.Errorf("unexpected script result format")
	}

	statusCode, ok := resultSlice[0].(int64)
	if !ok {
		return leaseFailed, nil, false, fmt.Errorf("invalid status code in script result")
	}

	switch cacheStatus(statusCode) {
	case cacheHit:
		resp, err := c.decodeHit(resultSlice[1], cacheKey)
		if err != nil {
			return leaseFailed, nil, false, err
		}
		return cacheHit, resp, false, nil

	case leaseAcquired:
		return leaseAcquired, nil, true, nil

	default:
		return leaseFailed, nil, false, nil
	}
}

// decodeHit turns the script's cached payload back into a response. The
// script already validated the JSON, so a decode failure here means the
// entry changed under us and is reported as an error rather than a miss.
func (c *cacheMiddleware) decodeHit(payload any, cacheKey string) (*transport.Response, error) {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return nil, fmt.Errorf("invalid cached data type %T", v)
	}

	var entry transport.IdempotentCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Error("unexpected cache unmarshal error after script validation",
			"error", err, "key", cacheKey)
		return nil, fmt.Errorf("cache entry unmarshal failed: %w", err)
	}

	return c.entryToResponse(&entry), nil
}
