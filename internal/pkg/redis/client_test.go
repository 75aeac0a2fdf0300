package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/TimeChat/config"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr), PoolSize: 4}

		client, err := NewClient(context.Background(), cfg)
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("connection failure with invalid address", func(t *testing.T) {
		cfg := &config.RedisConfig{Host: "127.0.0.1", Port: 1}

		client, err := NewClient(context.Background(), cfg)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}

func TestClient_Presence(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	online, err := client.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, client.SetOnline(ctx, "u1", time.Minute))
	online, err = client.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	among, err := client.OnlineAmong(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"u1": true, "u2": false}, among)

	mr.FastForward(2 * time.Minute)
	online, err = client.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online, "presence should lapse after its ttl")

	require.NoError(t, client.SetOnline(ctx, "u1", time.Minute))
	require.NoError(t, client.SetOffline(ctx, "u1"))
	online, err = client.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestClient_OnlineAmongEmpty(t *testing.T) {
	client, _ := setupTestRedis(t)
	among, err := client.OnlineAmong(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, among)
}

func TestClient_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	assert.Error(t, client.SetOnline(context.Background(), "u1", time.Minute))
	_, err := client.IsOnline(context.Background(), "u1")
	assert.Error(t, err)
}

// TestProperty_PresenceTTL: a user is online strictly before the ttl elapses
// and offline after it.
func TestProperty_PresenceTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)
	properties.Property("presence lasts exactly its ttl", prop.ForAll(
		func(userID string, seconds int) bool {
			ttl := time.Duration(seconds) * time.Second
			if err := client.SetOnline(ctx, userID, ttl); err != nil {
				return false
			}
			mr.FastForward(ttl - time.Second/2)
			before, err := client.IsOnline(ctx, userID)
			if err != nil || !before {
				return false
			}
			mr.FastForward(time.Second)
			after, err := client.IsOnline(ctx, userID)
			return err == nil && !after
		},
		gen.Identifier(),
		gen.IntRange(1, 60),
	))
	properties.TestingRun(t)
}
