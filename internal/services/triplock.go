package services

import "sync"

// tripLocks hands out one mutex per trip so ledger writes to the same
// trip serialize while different trips proceed in parallel. Locks are
// never evicted; the set of trips a process serves is small.
type tripLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTripLocks() *tripLocks {
	return &tripLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *tripLocks) get(tripID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tripID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[tripID] = l
	}
	return l
}
