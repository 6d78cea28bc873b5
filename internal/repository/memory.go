package repository

import (
	"context"
	"sync"
	"time"

	"studiobook/internal/domain"
)

// MemoryDateLocker serializes per key within one process.
type MemoryDateLocker struct {
	mu    sync.Mutex
	locks map[string]*memLock
	wait  time.Duration
}

type memLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryDateLocker(wait time.Duration) *MemoryDateLocker {
	return &MemoryDateLocker{
		locks: make(map[string]*memLock),
		wait:  wait,
	}
}

func (l *MemoryDateLocker) Lock(ctx context.Context, key string) (func(), error) {
	entry := l.acquireRef(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.releaseRef(key)
			})
		}, nil
	case <-ctx.Done():
		l.releaseRef(key)
		return nil, ctx.Err()
	case <-timeout:
		l.releaseRef(key)
		return nil, domain.ErrLockTimeout
	}
}

func (l *MemoryDateLocker) acquireRef(key string) *memLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &memLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *MemoryDateLocker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
