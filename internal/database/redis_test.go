package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestGrantLockExcludesConcurrentGrant(t *testing.T) {
	_, rdb := newTestRedis(t)
	lock := NewGrantLock(rdb, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = lock.Acquire(ctx, 8)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per user")

	release()

	_, ok, err = lock.Acquire(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGrantLockReleaseKeepsForeignLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lock := NewGrantLock(rdb, time.Minute)
	ctx := context.Background()

	release, ok, err := lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	// First holder outlives its TTL and someone else takes the lock.
	mr.FastForward(2 * time.Minute)
	_, ok, err = lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists(grantLockPrefix+"7"))
}
