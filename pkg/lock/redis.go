package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"docchat-go/pkg/log"
)

// 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// 只有持有者才能续期
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker 是跨进程的文档写锁，基于 SET NX PX。
// 持有期间后台每 ttl/3 续期一次，入库耗时超过 ttl 也不会丢锁；进程崩溃后锁在 ttl 内自动过期。
type RedisLocker struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	retryDelay   time.Duration
	refreshEvery time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		rdb:        rdb,
		prefix:     "docchat:lock:document:",
		ttl:          ttl,
		retryDelay:   100 * time.Millisecond,
		refreshEvery: ttl / 3,
	}
}

// Lock 轮询直到获得锁或 ctx 结束。
func (r *RedisLocker) Lock(ctx context.Context, documentID uint) (func(), error) {
	key := fmt.Sprintf("%s%d", r.prefix, documentID)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryDelay)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// 调用方的 ctx 可能已经取消，释放时使用独立的 ctx
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{key}, token).Err(); err != nil {
				log.Warnf("[Lock] 释放锁 %s 失败: %v", key, err)
			}
		})
	}, nil
}

// keepAlive 定期续期，直到 stop 关闭或锁已不属于自己。
func (r *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := refreshScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			log.Warnf("[Lock] 续期锁 %s 失败: %v", key, err)
			continue
		}
		if n == 0 {
			log.Warnf("[Lock] 锁 %s 已过期或被其他持有者获得, 停止续期", key)
			return
		}
	}
}
