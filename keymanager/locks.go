package keymanager

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyLocks serializes operations on one key. Waiting honours ctx.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (l *keyLocks) acquire(ctx context.Context, keyID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[keyID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[keyID] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	return func() { sem.Release(1) }, nil
}
