//go:build integration

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	store, err := NewRedisStore(ctx, RedisOptions{
		Addr:          endpoint,
		PoolSize:      2,
		CheckInterval: 50 * time.Millisecond,
		StaleAfter:    10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_Directory(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()
	d := NewDirectory(store)

	require.NoError(t, d.BindToken(ctx, "tok", 42, time.Minute))
	uid, ok, err := d.TokenUser(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, uid)

	require.NoError(t, d.SetHost(ctx, 42, "chat-1"))
	host, ok, err := d.Host(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chat-1", host)

	require.NoError(t, d.ResetLoginCount(ctx, "chat-1"))
	n, err := d.IncrLogin(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err = d.LoginCount(ctx, "chat-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SurvivesHealthChecks(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, store.Set(ctx, "k", "v", 0))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
