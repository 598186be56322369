package runlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*miniredis.Miniredis, *Locker) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewLocker(client)
}

func TestAcquire_Exclusive(t *testing.T) {
	_, locker := setupLocker(t)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "renewal", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "renewal", lease.Key())

	_, err = locker.Acquire(ctx, "renewal", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "renewal", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestAcquire_ExpiresWithTTL(t *testing.T) {
	mr, locker := setupLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "renewal", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	second, err := locker.Acquire(ctx, "renewal", time.Minute)
	require.NoError(t, err)

	// The expired holder must not delete the new holder's key.
	assert.ErrorIs(t, first.Release(ctx), ErrLeaseLost)
	assert.True(t, mr.Exists("renewal"))

	require.NoError(t, second.Release(ctx))
	assert.False(t, mr.Exists("renewal"))
}

func TestAcquire_RejectsBadArguments(t *testing.T) {
	_, locker := setupLocker(t)

	_, err := locker.Acquire(context.Background(), "", time.Minute)
	assert.Error(t, err)

	_, err = locker.Acquire(context.Background(), "renewal", 0)
	assert.Error(t, err)
}
