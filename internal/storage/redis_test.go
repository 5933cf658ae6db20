package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestRedisStore_TryAcquireIsExclusive(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestRedisStore(t)
	other := NewRedisStoreFromClient(store.Client())

	token, ok, err := store.TryAcquire(ctx, "lock:fetch_all_regions_orders", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = other.TryAcquire(ctx, "lock:fetch_all_regions_orders", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, store.Release(ctx, "lock:fetch_all_regions_orders", token))

	_, ok, err = other.TryAcquire(ctx, "lock:fetch_all_regions_orders", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_LockExpires(t *testing.T) {
	ctx := testContext(t)
	store, mr := newTestRedisStore(t)

	_, ok, err := store.TryAcquire(ctx, "lock:region_orders:10000002", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Minute)

	held, err := store.Held(ctx, "lock:region_orders:10000002")
	require.NoError(t, err)
	assert.False(t, held)

	_, ok, err = store.TryAcquire(ctx, "lock:region_orders:10000002", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ReleaseDoesNotFreeForeignLock(t *testing.T) {
	ctx := testContext(t)
	store, mr := newTestRedisStore(t)
	other := NewRedisStoreFromClient(store.Client())

	token, ok, err := store.TryAcquire(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Our TTL lapses and someone else takes the lock.
	mr.FastForward(2 * time.Minute)
	_, ok, err = other.TryAcquire(ctx, "lock:k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "lock:k", token))

	held, err := store.Held(ctx, "lock:k")
	require.NoError(t, err)
	assert.True(t, held, "release by a stale holder must not delete the new owner's lock")
}

// Both acquisitions go through one shared store, the way the worker pool
// goroutines share a single RedisStore.
func TestRedisStore_StaleReleaseFromSameStoreKeepsNewLock(t *testing.T) {
	ctx := testContext(t)
	store, mr := newTestRedisStore(t)

	first, ok, err := store.TryAcquire(ctx, "lock:region_orders:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	second, ok, err := store.TryAcquire(ctx, "lock:region_orders:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, first, second)

	require.NoError(t, store.Release(ctx, "lock:region_orders:1", first))

	held, err := store.Held(ctx, "lock:region_orders:1")
	require.NoError(t, err)
	assert.True(t, held, "late release of an expired acquisition must not free the current one")

	require.NoError(t, store.Release(ctx, "lock:region_orders:1", second))
	held, err = store.Held(ctx, "lock:region_orders:1")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRedisStore_ReleaseUnknownKey(t *testing.T) {
	ctx := testContext(t)
	store, _ := newTestRedisStore(t)
	assert.NoError(t, store.Release(ctx, "lock:never-taken", "no-such-token"))
	assert.NoError(t, store.Release(ctx, "lock:never-taken", ""))
}
