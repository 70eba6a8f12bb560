package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 把失败次数保存在 Redis 中，多个消费者实例共享。
type RedisAttempts struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb, ttl: 24 * time.Hour}
}

func (a *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, a.ttl).Err()
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

// MemoryAttempts 是进程内的计数器，用于未配置 Redis 的部署。
type MemoryAttempts struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{counts: make(map[string]int64)}
}

func (a *MemoryAttempts) Incr(ctx context.Context, key string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[key]++
	return a.counts[key], nil
}

func (a *MemoryAttempts) Reset(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, key)
	return nil
}
