//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Users {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chat"),
		tcpostgres.WithUsername("chat"),
		tcpostgres.WithPassword("chat"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(dsn, nil))
	// A second run is a no-op.
	require.NoError(t, Migrate(dsn, nil))

	users, err := Open(ctx, Options{DSN: dsn, PoolSize: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(users.Close)
	return users
}

func TestUsers_Lifecycle(t *testing.T) {
	users := setupPostgres(t)
	ctx := context.Background()

	alice, err := users.CreateUser(ctx, "alice", "alice@example.com", "secret")
	require.NoError(t, err)
	bob, err := users.CreateUser(ctx, "bob", "bob@example.com", "hunter2")
	require.NoError(t, err)

	_, err = users.CreateUser(ctx, "alice", "other@example.com", "x")
	assert.ErrorIs(t, err, ErrUserExists)

	u, err := users.CheckPassword(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, alice, u.UID)

	_, err = users.CheckPassword(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	_, err = users.GetUser(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)

	u, err = users.GetUserByName(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob, u.UID)

	require.NoError(t, users.AddFriendApply(ctx, alice, bob))
	require.NoError(t, users.AddFriendApply(ctx, alice, bob))

	applies, err := users.ApplyList(ctx, bob)
	require.NoError(t, err)
	require.Len(t, applies, 1)
	assert.Equal(t, alice, applies[0].UID)
	assert.Equal(t, 0, applies[0].Status)

	require.NoError(t, users.AuthFriendApply(ctx, bob, alice))
	require.NoError(t, users.AddFriend(ctx, bob, alice, "ally"))

	applies, err = users.ApplyList(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 1, applies[0].Status)

	friends, err := users.FriendList(ctx, bob)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, alice, friends[0].UID)
	assert.Equal(t, "ally", friends[0].Back)

	friends, err = users.FriendList(ctx, alice)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob, friends[0].UID)
}
