//go:build integration

package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcdev12/evilcards/go/internal/game/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestStore_RealRedis(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := relay.NewRedisClient(ctx, relay.RedisConfig{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	store := relay.NewStore(rdb, time.Minute)
	require.NoError(t, store.SetOwner(ctx, "room", "7"))

	owner, err := store.Owner(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "7", owner)

	ttl, err := rdb.TTL(ctx, "evilcards:session:room").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, store.DeleteOwner(ctx, "room"))
	_, err = store.Owner(ctx, "room")
	require.ErrorIs(t, err, relay.ErrRouteNotFound)
}
