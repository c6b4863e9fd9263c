package identitycache

import (
	"cohortq/internal/federation"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache, err := Connect(context.Background(), Config{Addr: mr.Addr(), TTL: ttl}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return mr, cache
}

func TestRedisGetSet(t *testing.T) {
	mr, cache := setupRedis(t, 0)
	ctx := context.Background()

	_, found, err := cache.Get(ctx, "https://repo-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "https://repo-1", "coll-1"))
	id, found, err := cache.Get(ctx, "https://repo-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, federation.RepositoryID("coll-1"), id)

	assert.True(t, mr.Exists(defaultPrefix+"https://repo-1"))
}

func TestRedisTTL(t *testing.T) {
	mr, cache := setupRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "https://repo-1", "coll-1"))
	assert.Equal(t, time.Minute, mr.TTL(defaultPrefix+"https://repo-1"))

	mr.FastForward(2 * time.Minute)
	_, found, err := cache.Get(ctx, "https://repo-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSharedAcrossResolvers(t *testing.T) {
	_, cache := setupRedis(t, 0)
	var calls int
	h := keyedHandle{
		key: "https://repo-1",
		HandleFunc: federation.HandleFunc{
			IdentifyFunc: func(context.Context, string) (federation.RepositoryID, error) {
				calls++
				return "coll-1", nil
			},
		},
	}

	for range 2 {
		// A fresh resolver stands in for a second process.
		r := federation.NewIdentityResolver(cache, nil)
		id, err := r.Resolve(context.Background(), h, "")
		require.NoError(t, err)
		assert.Equal(t, federation.RepositoryID("coll-1"), id)
	}
	assert.Equal(t, 1, calls)
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = Connect(context.Background(), Config{Addr: addr}, nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

type keyedHandle struct {
	federation.HandleFunc
	key string
}

func (h keyedHandle) HandleKey() string { return h.key }
