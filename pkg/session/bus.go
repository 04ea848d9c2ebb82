package session

import "sync"

// BusLock serializes meters sharing one physical line. A poll that finds
// its bus taken is skipped rather than queued.
type BusLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewBusLock() *BusLock {
	return &BusLock{held: make(map[string]struct{})}
}

func (b *BusLock) TryLock(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.held[key]; taken {
		return false
	}
	b.held[key] = struct{}{}
	return true
}

func (b *BusLock) Unlock(key string) {
	b.mu.Lock()
	delete(b.held, key)
	b.mu.Unlock()
}
