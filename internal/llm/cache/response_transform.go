package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// get is the plain lookup used after losing a lease race, when the winner
// may have populated the key. Unlike the scripted path it does no staleness
// check; an entry written fractions of a second ago cannot be stale.
// Corrupt entries are deleted and reported as redis.Nil.
func (c *cacheMiddleware) get(ctx context.Context, key string) (*transport.Response, error) {
	if c.client == nil {
		return nil, redis.Nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var entry transport.IdempotentCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal error", "error", err, "key", key)
		_ = c.client.Del(ctx, key)
		return nil, redis.Nil
	}

	return c.entryToResponse(&entry), nil
}

// set stores a successful response under the operation-specific TTL.
func (c *cacheMiddleware) set(
	ctx context.Context,
	key string,
	resp *transport.Response,
	req *transport.Request,
) error {
	if c.client == nil {
		return nil
	}

	entry := c.responseToEntry(resp, req)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	return c.client.Set(ctx, key, data, c.getTTL(req)).Err()
}

// responseToEntry compacts a response for storage. Only the raw provider
// body, usage, and a handful of tracing headers are kept; Content is not
// stored because it can be re-derived from the raw body on the way out.
func (c *cacheMiddleware) responseToEntry(
	resp *transport.Response,
	req *transport.Request,
) *transport.IdempotentCacheEntry {
	essential := make(map[string]string)
	for key, values := range resp.Headers {
		if len(values) > 0 {
			switch key {
			case "Content-Type", "X-Request-ID", "X-RateLimit-Remaining":
				essential[key] = values[0]
			}
		}
	}

	return &transport.IdempotentCacheEntry{
		Provider:        req.Provider,
		Model:           req.Model,
		RawResponse:     resp.RawBody,
		ResponseHeaders: essential,
		Usage:           resp.Usage,
		StoredAtUnixMs:  time.Now().UnixMilli(),
	}
}

// entryToResponse rebuilds a servable response from a stored entry. Content
// comes back out of the raw provider body through the provider-specific
// parser, so a cache hit carries the same text a fresh call would have.
func (c *cacheMiddleware) entryToResponse(entry *transport.IdempotentCacheEntry) *transport.Response {
	headers := make(map[string][]string)
	for key, value := range entry.ResponseHeaders {
		headers[key] = []string{value}
	}

	return &transport.Response{
		Content:            extractContentFromRawResponse(entry.RawResponse, entry.Provider),
		FinishReason:       extractFinishReasonFromUsage(&entry.Usage),
		ProviderRequestIDs: extractRequestIDsFromHeaders(entry.ResponseHeaders),
		Usage:              entry.Usage,
		Headers:            headers,
		RawBody:            entry.RawResponse,
	}
}
