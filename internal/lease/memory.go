package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is process-local. Use it for local runs and single-instance
// deployments only.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]memoryEntry), now: time.Now}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expiresAt) {
		return nil, ErrHeld
	}

	owner := newOwner()
	l.leases[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, owner: owner}, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	owner  string
}

func (m *memoryLease) Key() string   { return m.key }
func (m *memoryLease) Owner() string { return m.owner }

func (m *memoryLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if cur, ok := m.locker.leases[m.key]; ok && cur.owner == m.owner {
		delete(m.locker.leases, m.key)
	}
	return nil
}

var _ Locker = (*MemoryLocker)(nil)
