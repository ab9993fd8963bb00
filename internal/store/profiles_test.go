package store

import (
	"context"
	"testing"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	users map[int]*User
	reads int
}

func (f *fakeSource) GetUser(_ context.Context, uid int) (*User, error) {
	f.reads++
	u, ok := f.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeSource) GetUserByName(_ context.Context, name string) (*User, error) {
	f.reads++
	for _, u := range f.users {
		if u.Name == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func TestProfiles_CacheAside(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{users: map[int]*User{
		7: {UID: 7, Name: "alice", Email: "a@example.com", Passwd: "hash", Nick: "Al"},
	}}
	cache := presence.NewMemoryStore()
	p := NewProfiles(src, cache, time.Minute, nil)

	u, err := p.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, 1, src.reads)

	raw, err := cache.Get(ctx, presence.BaseInfoKey(7))
	require.NoError(t, err)
	assert.NotContains(t, raw, "hash", "password hash must not be cached")

	u, err = p.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Al", u.Nick)
	assert.Equal(t, 1, src.reads, "second read served from cache")

	require.NoError(t, p.Invalidate(ctx, 7))
	_, err = p.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, src.reads)
}

func TestProfiles_Miss(t *testing.T) {
	p := NewProfiles(&fakeSource{users: map[int]*User{}}, presence.NewMemoryStore(), 0, nil)
	_, err := p.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfiles_CorruptEntryFallsThrough(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{users: map[int]*User{3: {UID: 3, Name: "carol"}}}
	cache := presence.NewMemoryStore()
	require.NoError(t, cache.Set(ctx, presence.BaseInfoKey(3), "{not json", 0))

	u, err := NewProfiles(src, cache, 0, nil).Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "carol", u.Name)
	assert.Equal(t, 1, src.reads)
}

func TestProfiles_ByNameRefreshesCache(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{users: map[int]*User{5: {UID: 5, Name: "eve"}}}
	cache := presence.NewMemoryStore()
	p := NewProfiles(src, cache, 0, nil)

	u, err := p.ByName(ctx, "eve")
	require.NoError(t, err)
	assert.Equal(t, 5, u.UID)

	_, err = cache.Get(ctx, presence.BaseInfoKey(5))
	assert.NoError(t, err)
}
