// Package lock provides per-key mutual exclusion in process and a
// Redis-backed lease for work that must not overlap across instances.
// This is part of the platform layer and contains no business logic.
package lock

import (
	"context"
	"sync"
)

// Keyed serialises work per key. Different keys never block each other.
type Keyed[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

func NewKeyed[K comparable]() *Keyed[K] {
	return &Keyed[K]{locks: make(map[K]*entry)}
}

// Lock waits for key until ctx ends. The returned unlock must be called
// exactly once.
func (k *Keyed[K]) Lock(ctx context.Context, key K) (unlock func(), err error) {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.release(key)
			})
		}, nil
	case <-ctx.Done():
		k.release(key)
		return nil, ctx.Err()
	}
}

// TryLock takes key only if it is free.
func (k *Keyed[K]) TryLock(key K) (unlock func(), ok bool) {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				k.release(key)
			})
		}, true
	default:
		k.release(key)
		return nil, false
	}
}

func (k *Keyed[K]) acquire(key K) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed[K]) release(key K) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e := k.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Len reports keys currently held or awaited.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
