package lock

import (
	"context"
	"sync"
)

// MutexLocker serializes users inside one process.
// Entries are reference counted and dropped once no caller holds or waits on them.
type MutexLocker struct {
	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewMutexLocker creates a new MutexLocker
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{users: make(map[string]*userLock)}
}

// Lock acquires userID's lock or returns ctx.Err()
func (l *MutexLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.users[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.users[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ul.ch
			l.release(userID, ul)
		})
	}, nil
}

func (l *MutexLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.users, userID)
	}
}

// Len reports how many users currently have lock entries
func (l *MutexLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
