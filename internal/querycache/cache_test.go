package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string  `json:"name"`
	Total float64 `json:"total"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute, nil), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Name: "flour", Total: float64(calls)}, nil
	}

	key, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	var out payload
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.NoError(t, cache.FetchJSON(ctx, key, &out, loader))
	require.Equal(t, 1, calls)
	require.InDelta(t, 1, out.Total, 0.0001)

	require.NoError(t, cache.Bump(ctx, "user_1"))
	next, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	require.NotEqual(t, key, next)
	require.NoError(t, cache.FetchJSON(ctx, next, &out, loader))
	require.Equal(t, 2, calls)
	require.InDelta(t, 2, out.Total, 0.0001)
}

func TestBumpIsScoped(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	a, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	b, err := cache.BuildKey(ctx, "user_2", "items")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx, "user_1"))
	a2, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	b2, err := cache.BuildKey(ctx, "user_2", "items")
	require.NoError(t, err)
	require.NotEqual(t, a, a2)
	require.Equal(t, b, b2)
}

func TestFetchJSONCollapsesConcurrentMisses(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return payload{Name: "cheese"}, nil
	}
	key, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out payload
			errs <- cache.FetchJSON(ctx, key, &out, loader)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchJSONFallsBackWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	key, err := cache.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	mr.Close()

	var out payload
	err = cache.FetchJSON(ctx, key, &out, func(context.Context) (any, error) {
		return payload{Name: "basil"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "basil", out.Name)
}

func TestFetchJSONPropagatesLoaderError(t *testing.T) {
	cache, _ := newTestCache(t)
	boom := errors.New("boom")
	var out payload
	err := cache.FetchJSON(context.Background(), "k", &out, func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestNilClientPassesThrough(t *testing.T) {
	cache := New(nil, time.Minute, nil)
	key, err := cache.BuildKey(context.Background(), "user_1", "items")
	require.NoError(t, err)
	require.Equal(t, "pantry:cache:user_1:items", key)
	var out payload
	require.NoError(t, cache.FetchJSON(context.Background(), key, &out, func(context.Context) (any, error) {
		return payload{Name: "salt"}, nil
	}))
	require.Equal(t, "salt", out.Name)
	require.NoError(t, cache.Bump(context.Background(), "user_1"))
}

func TestListenForInvalidationDropsMemoisedVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close(); _ = clientB.Close() })
	a := New(clientA, time.Minute, nil)
	b := New(clientB, time.Minute, nil)
	require.NoError(t, b.ListenForInvalidation(ctx, ""))

	before, err := b.BuildKey(ctx, "user_1", "items")
	require.NoError(t, err)
	require.NoError(t, a.Bump(ctx, "user_1"))

	require.Eventually(t, func() bool {
		after, err := b.BuildKey(ctx, "user_1", "items")
		return err == nil && after != before
	}, time.Second, 10*time.Millisecond)
}
