package redislock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/household-ledger/advance"
	"github.com/warp/household-ledger/store/redislock"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testTTL = 2 * time.Second

// newTestLocker connects to REDIS_ADDR when set, otherwise to an in-process
// miniredis. The returned function advances lock expiry by d.
func newTestLocker(t *testing.T) (*redislock.Locker, func(d time.Duration)) {
	t.Helper()
	cfg := redislock.Config{
		KeyPrefix:     "ledger:test:" + uuid.NewString() + ":",
		TTL:           testTTL,
		RetryInterval: 10 * time.Millisecond,
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
		l, err := redislock.New(context.Background(), cfg, nil)
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l, time.Sleep
	}

	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	l, err := redislock.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, mr.FastForward
}

func lockFails(t *testing.T, l *redislock.Locker, key string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, key)
	require.ErrorIs(t, err, advance.ErrLockUnavailable)
	assert.True(t, advance.IsConflict(err))
}

// =============================================================================
// LOCKER
// =============================================================================

func TestLocker_ExclusiveUntilReleased(t *testing.T) {
	// GIVEN: A held lock
	// WHEN: A second caller tries the same key
	// THEN: It gives up when its context ends; after release the key is free

	l, _ := newTestLocker(t)
	key := advance.LockKey(1)

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	lockFails(t, l, key)

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l, _ := newTestLocker(t)

	first, err := l.Lock(context.Background(), advance.LockKey(1))
	require.NoError(t, err)
	defer first()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := l.Lock(ctx, advance.LockKey(2))
	require.NoError(t, err)
	second()
}

func TestLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	// GIVEN: A lock whose TTL ran out and was taken by a new holder
	// WHEN: The old holder releases
	// THEN: The new holder keeps the lock

	l, expire := newTestLocker(t)
	key := advance.LockKey(2)

	stale, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	expire(testTTL + time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	current, err := l.Lock(ctx, key)
	require.NoError(t, err)
	defer current()

	stale()

	lockFails(t, l, key)
}

func TestLocker_AppliesDefaults(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := redislock.NewWithClient(client, redislock.Config{}, nil)
	t.Cleanup(func() { l.Close() })

	key := advance.LockKey(7)
	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)

	redisKey := redislock.DefaultKeyPrefix + key
	require.True(t, mr.Exists(redisKey))
	assert.Equal(t, redislock.DefaultTTL, mr.TTL(redisKey))

	unlock()
	assert.False(t, mr.Exists(redisKey))
}

func TestLocker_ServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	l, err := redislock.New(context.Background(), redislock.Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = l.Lock(ctx, advance.LockKey(3))
	require.Error(t, err)
	assert.NotErrorIs(t, err, advance.ErrLockUnavailable)
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := redislock.New(ctx, redislock.Config{Addr: "127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
