package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker used by tests and single-node
// deployments. TTLs are honored so that a crashed goroutine cannot wedge a
// key forever.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()

	if expiry, exists := m.held[key]; exists && expiry.After(now) {
		return nil, false, nil
	}

	m.held[key] = now.Add(ttl)

	var once sync.Once

	release := func(_ context.Context) {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()

			delete(m.held, key)
		})
	}

	return release, true, nil
}

func (m *MemoryLocker) Close() error {
	return nil
}
