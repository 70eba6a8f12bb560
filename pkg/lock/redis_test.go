package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockKey = "docchat:lock:document:1"

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLocker(rdb, ttl)
	l.retryDelay = 5 * time.Millisecond
	return l, m
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l, m := newTestRedisLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, m.Exists(lockKey))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 其他文档不受影响
	unlock2, err := l.Lock(context.Background(), 2)
	require.NoError(t, err)
	unlock2()

	acquired := make(chan func(), 1)
	go func() {
		u, err := l.Lock(context.Background(), 1)
		if assert.NoError(t, err) {
			acquired <- u
		}
	}()
	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("lock acquired while still held")
	default:
	}

	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(time.Second):
		t.Fatal("waiter did not acquire the lock after release")
	}
	assert.False(t, m.Exists(lockKey))
}

func TestRedisLocker_ReleaseChecksToken(t *testing.T) {
	l, m := newTestRedisLocker(t, time.Minute)
	l.refreshEvery = time.Hour

	unlockA, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)

	// A 的锁过期后被 B 获得
	m.FastForward(2 * time.Minute)
	require.False(t, m.Exists(lockKey))
	unlockB, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	tokenB, err := m.Get(lockKey)
	require.NoError(t, err)

	// A 迟到的释放不能删除 B 的锁
	unlockA()
	got, err := m.Get(lockKey)
	require.NoError(t, err)
	assert.Equal(t, tokenB, got)

	unlockB()
	assert.False(t, m.Exists(lockKey))
	// 重复释放无副作用
	unlockB()
}

func TestRedisLocker_ContextCancelledWhileWaiting(t *testing.T) {
	l, _ := newTestRedisLocker(t, time.Minute)
	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Lock(ctx, 1)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Lock did not return after cancel")
	}
}

func TestRedisLocker_KeepsLockAliveDuringLongWork(t *testing.T) {
	l, m := newTestRedisLocker(t, 300*time.Millisecond)
	l.refreshEvery = 10 * time.Millisecond

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)

	// 模拟 TTL 即将耗尽，续期后恢复为完整的 ttl
	m.SetTTL(lockKey, time.Millisecond)
	assert.Eventually(t, func() bool {
		return m.TTL(lockKey) == 300*time.Millisecond
	}, time.Second, 5*time.Millisecond)

	unlock()
	assert.False(t, m.Exists(lockKey))
}

func TestRedisLocker_StopsRefreshingLostLock(t *testing.T) {
	l, m := newTestRedisLocker(t, 300*time.Millisecond)
	l.refreshEvery = 10 * time.Millisecond

	unlock, err := l.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	// 锁被其他持有者抢占后不再续期它的 TTL
	require.NoError(t, m.Set(lockKey, "someone-else"))
	m.SetTTL(lockKey, time.Minute)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, time.Minute, m.TTL(lockKey))

	got, err := m.Get(lockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
