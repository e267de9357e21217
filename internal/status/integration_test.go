//go:build integration

package status

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/internal/stream"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis uri: %v", err)
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}

	client := redis.NewClient(opt)
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestStore_AgainstRedis(t *testing.T) {
	client := setupRedis(t)
	store := NewStore(client, 30*time.Second, logger.NopLogger())
	ctx := context.Background()

	require.NoError(t, store.WriteChange(ctx, stream.StatusChange{
		Chain: "cosmos_hub",
		From:  stream.Connected,
		To:    stream.NeedsRestart,
		At:    time.Now(),
	}))

	rec, err := store.Get(ctx, "cosmos_hub")
	require.NoError(t, err)
	assert.Equal(t, "NEEDS_RESTART", rec.Status)

	ttl, err := client.TTL(ctx, Key("cosmos_hub")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
