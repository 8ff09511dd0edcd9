package store

import "sync"

// ReleaseLocks serializes writers of the same release. Entries are dropped
// once no goroutine holds or waits for them.
type ReleaseLocks struct {
	mu    sync.Mutex
	locks map[int64]*releaseLock
}

type releaseLock struct {
	mu   sync.Mutex
	refs int
}

func NewReleaseLocks() *ReleaseLocks {
	return &ReleaseLocks{locks: make(map[int64]*releaseLock)}
}

// Lock blocks until the release is free and returns its unlock function.
func (l *ReleaseLocks) Lock(id int64) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &releaseLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// TryLock takes the release lock only if it is free right now.
func (l *ReleaseLocks) TryLock(id int64) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[id]
	if !ok {
		lk = &releaseLock{}
	}
	if !lk.mu.TryLock() {
		return nil, false
	}
	lk.refs++
	l.locks[id] = lk

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}, true
}

func (l *ReleaseLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
