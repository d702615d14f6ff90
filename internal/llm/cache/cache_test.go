package cache_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/llm/cache"
	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	"github.com/ahrav/go-mealmatch/internal/llm/errors"
	"github.com/ahrav/go-mealmatch/internal/llm/transport"
)

// countingHandler records invocations and returns a canned response or error.
type countingHandler struct {
	calls atomic.Int64
	resp  *transport.Response
	err   error
}

func (h *countingHandler) Handle(_ context.Context, _ *transport.Request) (*transport.Response, error) {
	h.calls.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	return h.resp, nil
}

// openAIRawBody is a minimal chat-completions response body. Cache hits
// reconstruct content from the stored raw body, so the shape matters.
const openAIRawBody = `{"choices":[{"message":{"content":"Lentil soup with spinach."}}]}`

func successHandler() *countingHandler {
	return &countingHandler{
		resp: &transport.Response{
			Content:      "Lentil soup with spinach.",
			FinishReason: "stop",
			Usage: transport.NormalizedUsage{
				PromptTokens:     12,
				CompletionTokens: 8,
				TotalTokens:      20,
			},
			RawBody: []byte(openAIRawBody),
		},
	}
}

func newCacheTestSetup(t *testing.T, cfg configuration.CacheConfig) (*miniredis.Miniredis, *redis.Client, transport.Middleware) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg.RedisAddr = mr.Addr()
	mw, err := cache.NewCacheMiddlewareWithRedis(context.Background(), cfg, client)
	require.NoError(t, err)
	return mr, client, mw
}

func generationRequest(idemKey string) *transport.Request {
	return &transport.Request{
		Operation:      transport.OpGeneration,
		Provider:       "openai",
		Model:          "gpt-4-turbo",
		TenantID:       "tenant-1",
		Prompt:         "I need an iron-rich dinner idea.",
		MaxTokens:      512,
		Temperature:    0.7,
		IdempotencyKey: idemKey,
	}
}

func TestCacheMiddleware_MissThenHit(t *testing.T) {
	_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-miss-then-hit")
	ctx := context.Background()

	first, err := cached.Handle(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "Lentil soup with spinach.", first.Content)
	require.EqualValues(t, 1, handler.calls.Load())

	second, err := cached.Handle(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Lentil soup with spinach.", second.Content, "hit reconstructs content from raw body")
	assert.Equal(t, first.Usage.TotalTokens, second.Usage.TotalTokens)
	assert.EqualValues(t, 1, handler.calls.Load(), "second request served from cache")
}

func TestCacheMiddleware_DisabledPassesThrough(t *testing.T) {
	_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: false})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-disabled")
	for i := 0; i < 3; i++ {
		_, err := cached.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, handler.calls.Load(), "disabled cache executes every request")
}

func TestCacheMiddleware_NoIdempotencyKeyBypasses(t *testing.T) {
	_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("")
	for i := 0; i < 2; i++ {
		_, err := cached.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, handler.calls.Load())
}

func TestCacheMiddleware_ErrorsNotCached(t *testing.T) {
	_, client, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := &countingHandler{err: &errors.ProviderError{
		Provider:   "openai",
		StatusCode: 500,
		Message:    "upstream exploded",
		Type:       errors.ErrorTypeProvider,
	}}
	cached := mw(handler)

	req := generationRequest("idemkey-error-path")
	ctx := context.Background()

	_, err := cached.Handle(ctx, req)
	require.Error(t, err)
	_, err = cached.Handle(ctx, req)
	require.Error(t, err)
	assert.EqualValues(t, 2, handler.calls.Load(), "failures are re-executed, never served from cache")

	keys, err := client.Keys(ctx, "llm:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys, "no cache entry written for failed responses")
}

func TestCacheMiddleware_InvalidKeyFieldsBypassCache(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*transport.Request)
	}{
		{name: "idempotency key too short", mutate: func(r *transport.Request) { r.IdempotencyKey = "short" }},
		{name: "missing tenant", mutate: func(r *transport.Request) { r.TenantID = "" }},
		{name: "uncacheable operation", mutate: func(r *transport.Request) { r.Operation = "embedding" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
			handler := successHandler()
			cached := mw(handler)

			req := generationRequest("idemkey-validation")
			tc.mutate(req)

			for i := 0; i < 2; i++ {
				_, err := cached.Handle(context.Background(), req)
				require.NoError(t, err)
			}
			assert.EqualValues(t, 2, handler.calls.Load(), "invalid key fields degrade to pass-through")
		})
	}
}

func TestCacheMiddleware_SummaryOperationCacheable(t *testing.T) {
	_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-summary-op")
	req.Operation = transport.OpSummary
	ctx := context.Background()

	_, err := cached.Handle(ctx, req)
	require.NoError(t, err)
	_, err = cached.Handle(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, handler.calls.Load(), "summary responses cache like generations")
}

func TestCacheMiddleware_CorruptEntryTreatedAsMiss(t *testing.T) {
	mr, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-corrupt-entry")
	key := transport.CacheKey(req.TenantID, req.Operation, transport.IdemKey(req.IdempotencyKey))
	require.NoError(t, mr.Set(key, "not-json-at-all"))

	resp, err := cached.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Lentil soup with spinach.", resp.Content)
	assert.EqualValues(t, 1, handler.calls.Load(), "corrupt entry is dropped and regenerated")
}

func TestCacheMiddleware_StaleEntryTreatedAsMiss(t *testing.T) {
	mr, _, mw := newCacheTestSetup(t, configuration.CacheConfig{
		Enabled: true,
		TTL:     24 * time.Hour,
		MaxAge:  time.Hour,
	})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-stale-entry")
	key := transport.CacheKey(req.TenantID, req.Operation, transport.IdemKey(req.IdempotencyKey))

	stale := transport.IdempotentCacheEntry{
		Provider:       "openai",
		Model:          "gpt-4-turbo",
		RawResponse:    []byte(openAIRawBody),
		StoredAtUnixMs: time.Now().Add(-2 * time.Hour).UnixMilli(),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, string(data)))

	resp, err := cached.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Lentil soup with spinach.", resp.Content)
	assert.EqualValues(t, 1, handler.calls.Load(), "entry past max age is regenerated")
}

func TestCacheMiddleware_LeaseHeldFallsBackToExecution(t *testing.T) {
	mr, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-lease-held")
	key := transport.CacheKey(req.TenantID, req.Operation, transport.IdemKey(req.IdempotencyKey))
	require.NoError(t, mr.Set(key+":lease", "1"))

	// Lease holder never publishes a result, so after the retry wait the
	// request executes anyway.
	resp, err := cached.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Lentil soup with spinach.", resp.Content)
	assert.EqualValues(t, 1, handler.calls.Load())
}

func TestCacheMiddleware_LeaseWaitServesLateArrival(t *testing.T) {
	mr, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-lease-late")
	key := transport.CacheKey(req.TenantID, req.Operation, transport.IdemKey(req.IdempotencyKey))
	require.NoError(t, mr.Set(key+":lease", "1"))

	// Simulate the lease holder finishing while we wait for the retry check.
	entry := transport.IdempotentCacheEntry{
		Provider:       "openai",
		Model:          "gpt-4-turbo",
		RawResponse:    []byte(openAIRawBody),
		StoredAtUnixMs: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = mr.Set(key, string(data))
	}()

	resp, err := cached.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Lentil soup with spinach.", resp.Content)
	assert.EqualValues(t, 0, handler.calls.Load(), "late-arriving entry is served without re-executing")
}

func TestNewCacheMiddlewareWithRedis_ConnectionFailureDisablesCache(t *testing.T) {
	cfg := configuration.CacheConfig{
		Enabled:   true,
		TTL:       time.Hour,
		RedisAddr: "127.0.0.1:1", // nothing listens here
	}
	mw, err := cache.NewCacheMiddlewareWithRedis(context.Background(), cfg, nil)
	require.NoError(t, err, "connection failure degrades rather than errors")

	handler := successHandler()
	cached := mw(handler)

	req := generationRequest("idemkey-degraded-mode")
	for i := 0; i < 2; i++ {
		_, handleErr := cached.Handle(context.Background(), req)
		require.NoError(t, handleErr)
	}
	assert.EqualValues(t, 2, handler.calls.Load(), "degraded cache passes every request through")
}

func TestCacheMiddleware_TenantIsolation(t *testing.T) {
	_, _, mw := newCacheTestSetup(t, configuration.CacheConfig{Enabled: true, TTL: time.Hour})
	handler := successHandler()
	cached := mw(handler)

	ctx := context.Background()
	reqA := generationRequest("idemkey-tenant-shared")
	reqA.TenantID = "tenant-a"
	reqB := generationRequest("idemkey-tenant-shared")
	reqB.TenantID = "tenant-b"

	_, err := cached.Handle(ctx, reqA)
	require.NoError(t, err)
	_, err = cached.Handle(ctx, reqB)
	require.NoError(t, err)
	assert.EqualValues(t, 2, handler.calls.Load(), "same idempotency key under different tenants misses")
}
