package engine

import "sync"

// accountLocks is the process-wide account id -> held/free map. A held
// account has an open automation context.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]chan struct{})}
}

func (l *accountLocks) lock(accountID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[accountID]
	if lock == nil {
		lock = make(chan struct{}, 1)
		l.locks[accountID] = lock
	}
	return lock
}

func (l *accountLocks) tryAcquire(accountID string) bool {
	select {
	case l.lock(accountID) <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *accountLocks) release(accountID string) {
	select {
	case <-l.lock(accountID):
	default:
	}
}
