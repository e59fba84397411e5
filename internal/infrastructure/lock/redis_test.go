package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisLocker(t *testing.T, opts ...RedisOption) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts = append([]RedisOption{WithLogger(zap.NewNop())}, opts...)
	return NewRedisLocker(client, opts...), mr
}

func TestRedisLocker_WithLock(t *testing.T) {
	locker, mr := setupRedisLocker(t)

	err := locker.WithLock(context.Background(), "cp-1", func(ctx context.Context) error {
		assert.True(t, mr.Exists("ledger:lock:counterparty:cp-1"), "key is held while fn runs")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("ledger:lock:counterparty:cp-1"), "key is released afterwards")
}

func TestRedisLocker_PropagatesError(t *testing.T) {
	locker, mr := setupRedisLocker(t, WithKeyPrefix("test:"))

	err := locker.WithLock(context.Background(), "cp-1", func(ctx context.Context) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("test:cp-1"))
	assert.Equal(t, "test:cp-1", locker.Key("cp-1"))
}

func TestRedisLocker_Busy(t *testing.T) {
	locker, mr := setupRedisLocker(t, WithRetries(2, 5*time.Millisecond))
	require.NoError(t, mr.Set("ledger:lock:counterparty:cp-1", "someone-else"))

	called := false
	err := locker.WithLock(context.Background(), "cp-1", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	got, err := mr.Get("ledger:lock:counterparty:cp-1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got, "a foreign lock is never released")
}

func TestRedisLocker_Expiry(t *testing.T) {
	locker, mr := setupRedisLocker(t, WithExpiry(3*time.Second))

	err := locker.WithLock(context.Background(), "cp-1", func(ctx context.Context) error {
		ttl := mr.TTL("ledger:lock:counterparty:cp-1")
		assert.Equal(t, 3*time.Second, ttl)
		return nil
	})
	require.NoError(t, err)
}

func TestRedisLocker_SerialisesAcrossLockers(t *testing.T) {
	mr := miniredis.RunT(t)
	newLocker := func() *RedisLocker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisLocker(client, WithRetries(200, 2*time.Millisecond))
	}
	lockers := []*RedisLocker{newLocker(), newLocker()}

	var active, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(l *RedisLocker) {
			defer wg.Done()
			err := l.WithLock(context.Background(), "cp-1", func(ctx context.Context) error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}(lockers[i%2])
	}
	wg.Wait()
	assert.Zero(t, overlaps)
}
