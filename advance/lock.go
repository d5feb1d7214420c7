package advance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// =============================================================================
// LOCKER - Per-advance serialization
// =============================================================================

// Locker serializes operations on the same key. Lock blocks until the key
// is free or ctx is done; the returned func releases it and is safe to call
// more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var _ Locker = (*KeyedMutex)(nil)

// LockKey is the lock key of an advance.
func LockKey(id AdvanceID) string {
	return "advance:" + strconv.FormatInt(int64(id), 10)
}

// KeyedMutex is an in-process Locker. Keys that are not held are removed
// so the map does not grow with the number of advances ever touched.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, fmt.Errorf("%w: %s: %v", ErrLockUnavailable, key, ctx.Err())
	}
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// held reports how many keys are currently tracked.
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
