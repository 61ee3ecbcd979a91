package procurement

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchJSONPopulatesOnce(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "procurement", "board")
	require.NoError(t, err)

	calls := 0
	loader := func(ctx context.Context) (any, error) {
		calls++
		return Board{Pool: []PoolGroup{{Category: "cemento", TotalQuantity: 12}}}, nil
	}

	var first Board
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, int64(12), first.Pool[0].TotalQuantity)

	var second Board
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
}

func TestCacheBumpRotatesKey(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "procurement", "board")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.BuildKey(ctx, "procurement", "board")
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestCacheNilClientFallsThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "procurement", "board")
	require.NoError(t, err)

	calls := 0
	var board Board
	loader := func(ctx context.Context) (any, error) {
		calls++
		return Board{}, nil
	}
	require.NoError(t, cache.FetchJSON(ctx, key, &board, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &board, loader))
	require.Equal(t, 2, calls)
	require.NoError(t, cache.Bump(ctx))
}
