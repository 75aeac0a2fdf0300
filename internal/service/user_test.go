package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/internal/pkg/redis"
)

func TestUserSearchExcludesCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, 3)
	users := NewUserService(f.deps, nil, 0)

	found, err := users.Search(ctx, ids[0], "user")
	require.NoError(t, err)
	assert.Len(t, found, 2)
	for _, u := range found {
		assert.NotEqual(t, ids[0], u.ID)
	}

	found, err = users.Search(ctx, ids[0], "user3@")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ids[2], found[0].ID)
}

func TestUserPresenceWithRedis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	presence := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	users := NewUserService(f.deps, presence, time.Minute)
	a, b := f.user(t), f.user(t)

	require.NoError(t, users.SetPresence(ctx, a, true))

	got, err := users.Get(ctx, a)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)

	found, err := users.Search(ctx, b, "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].IsOnline)

	// the redis entry lapses even though the record still says online
	mr.FastForward(2 * time.Minute)
	got, err = users.Get(ctx, a)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)

	require.NoError(t, users.SetPresence(ctx, a, false))
	stored, err := f.deps.Users.FindByID(ctx, a)
	require.NoError(t, err)
	assert.False(t, stored.IsOnline)

	assert.ErrorIs(t, users.SetPresence(ctx, "missing", true), ErrUserNotFound)
	_, err = users.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
