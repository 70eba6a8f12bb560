// Package lock 提供按文档 ID 串行化写操作的锁。
package lock

import (
	"context"
	"sync"
)

// KeyedMutex 是进程内按 key 加锁的互斥锁，不再使用的 key 会被回收。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uint]*keyedEntry)}
}

// Lock 获取 documentID 对应的锁，ctx 取消时放弃等待。
func (k *KeyedMutex) Lock(ctx context.Context, documentID uint) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[documentID]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[documentID] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(documentID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(documentID, e)
		})
	}, nil
}

func (k *KeyedMutex) release(documentID uint, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, documentID)
	}
}

// size 返回当前持有或等待中的 key 数量。
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
