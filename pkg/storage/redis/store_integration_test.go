//go:build integration

package redis_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/aussiebroadwan/authstate/pkg/storage"
	"github.com/aussiebroadwan/authstate/pkg/storage/redis"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisStore(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	t.Run("crud", func(t *testing.T) {
		st, err := redis.Connect(ctx, redis.Config{URL: url})
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })

		_, ok, err := st.Get(ctx, "authstate:x")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, st.Set(ctx, "authstate:x", "1"))
		v, ok, err := st.Get(ctx, "authstate:x")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "1", v)

		require.NoError(t, st.Remove(ctx, "authstate:x"))
		_, ok, err = st.Get(ctx, "authstate:x")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("managers sync through pubsub", func(t *testing.T) {
		opts, err := goredis.ParseURL(url)
		require.NoError(t, err)
		client := goredis.NewClient(opts)
		t.Cleanup(func() { _ = client.Close() })

		tab1 := storage.NewManager(ctx, storage.Options{Local: redis.NewStore(client, redis.Config{})})
		tab2 := storage.NewManager(ctx, storage.Options{Local: redis.NewStore(client, redis.Config{})})
		t.Cleanup(func() { _ = tab2.Close() })

		key := storage.Key{Name: "authUser", Persistence: storage.Local}

		var fired atomic.Int32
		tab2.AddListener(key, "k:app", func() { fired.Add(1) })

		require.NoError(t, tab1.Set(ctx, key, "k:app", `{"uid":"abc"}`))
		require.Eventually(t, func() bool { return fired.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

		// The writer's own announcement must not come back to it.
		var own atomic.Int32
		tab1.AddListener(key, "k:app", func() { own.Add(1) })
		require.NoError(t, tab1.Set(ctx, key, "k:app", `{"uid":"def"}`))
		require.Eventually(t, func() bool { return fired.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
		require.Equal(t, int32(0), own.Load())
	})
}
