//go:build integration
// +build integration

package ratelimit

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a throwaway Redis for the integration tests and
// returns the container plus a verified client. The container handle is
// returned so tests can kill Redis mid-flight to exercise degraded mode;
// otherwise teardown happens via t.Cleanup.
func setupRedisContainer(t testing.TB) (*redisContainer.RedisContainer, *redis.Client) {
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
		DB:   1,
	})

	_, err = client.Ping(ctx).Result()
	require.NoError(t, err)

	return container, client
}
