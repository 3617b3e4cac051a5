// Package lock provides the single-writer lock that keeps two replays of the
// same offline queue from running at once.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("lock: already held")

// Locker is a non-blocking mutual exclusion primitive.
type Locker interface {
	// TryLock acquires the lock or returns ErrLocked immediately.
	// The returned function releases it and is safe to call more than once.
	TryLock(ctx context.Context) (unlock func(), err error)
}

// Local is an in-process Locker, sufficient when the queue's storage is
// owned by a single process (the SQLite and memory stores).
type Local struct {
	mu   sync.Mutex
	held bool
}

// NewLocal creates an unlocked Local.
func NewLocal() *Local {
	return &Local{}
}

// TryLock implements Locker.
func (l *Local) TryLock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil, ErrLocked
	}
	l.held = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether the lock is currently held.
func (l *Local) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
