package wallet

import "sync"

// userLocks serializes play and rollback processing per user so the funds
// check and the subsequent balance mutations cannot interleave for the same
// wallet. Locks are never released back; the per-user footprint is one mutex.
type userLocks struct {
	guard sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

func (registry *userLocks) forUser(userID UserID) *sync.Mutex {
	registry.guard.Lock()
	defer registry.guard.Unlock()
	lock, exists := registry.locks[userID.String()]
	if !exists {
		lock = &sync.Mutex{}
		registry.locks[userID.String()] = lock
	}
	return lock
}
