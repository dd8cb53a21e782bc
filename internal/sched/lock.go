// Package sched runs the engine's periodic jobs behind a named
// mutual-exclusion lock, so overlapping runs of the same job never execute
// concurrently. The lock is a courtesy that bounds duplicate work; the
// event store's consumed flag is the real idempotency boundary.
package sched

import (
	"context"
	"sync"
	"time"
)

// Locker is a named lock with an expiry ceiling. Acquire returns ok=false
// when another holder is active; the caller skips its run, it never queues.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, clock: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if exp, ok := l.held[name]; ok && exp.After(now) {
		return nil, false, nil
	}
	l.held[name] = now.Add(ttl)
	release := func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}
	return release, true, nil
}
