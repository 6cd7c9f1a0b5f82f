package chat

import "sync"

// roomLocks hands out one mutex per room. Entries are reference counted and
// dropped once the last holder unlocks, so the map only holds rooms with
// work in flight.
type roomLocks struct {
	mu    sync.Mutex
	locks map[int]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[int]*roomLock)}
}

// lock blocks until the caller holds roomId's lock and returns the unlock
// func.
func (l *roomLocks) lock(roomId int) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomId]
	if !ok {
		rl = &roomLock{}
		l.locks[roomId] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomId)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
