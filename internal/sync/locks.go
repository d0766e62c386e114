package sync

import "sync"

// maxHeldLocks bounds the lock set. Reconciliation within one pull is
// sequential, so the bound only matters under many overlapping pulls; hitting
// it makes acquire fail, which callers treat the same as a busy event.
const maxHeldLocks = 1024

// lockSet serialises concurrent reconciliation attempts per event id with a
// simple presence-check-and-insert. An event whose lock is already held is
// skipped by the later caller, not queued; a future pull catches anything
// the in-flight reconciliation misses.
type lockSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLockSet() *lockSet {
	return &lockSet{held: make(map[string]struct{})}
}

// tryAcquire claims the lock for id. It returns false when the lock is
// already held or the set is at capacity.
func (l *lockSet) tryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[id]; busy {
		return false
	}
	if len(l.held) >= maxHeldLocks {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// release frees the lock for id.
func (l *lockSet) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
