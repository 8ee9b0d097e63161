package services

import "sync"

// inboundLocks serializes mutating panel operations per inbound. The panel's
// client-list update is a read-modify-write with no transactional primitive,
// so two approvals against the same inbound must not interleave. Operations
// on different inbounds proceed in parallel. The lock is in-process only:
// running more than one orchestrator against the same panel is unsupported.
type inboundLocks struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

func newInboundLocks() *inboundLocks {
	return &inboundLocks{locks: make(map[int]*sync.Mutex)}
}

// Lock acquires the mutex for the inbound and returns the release function.
func (l *inboundLocks) Lock(inboundID int) func() {
	l.mu.Lock()
	lock, ok := l.locks[inboundID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[inboundID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
