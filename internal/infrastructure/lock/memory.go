package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker grants expiring leases inside one process.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var _ ports.Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: map[string]entry{}, now: time.Now}
}

// TryLock acquires key unless an unexpired lease holds it.
func (m *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (ports.Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if held, ok := m.entries[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	m.entries[key] = entry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: m, key: key, token: token}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

// Extend pushes the expiry to now+ttl while the lease is still ours.
func (l *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	held, ok := m.entries[l.key]
	if !ok || held.token != l.token || !now.Before(held.expiresAt) {
		return fmt.Errorf("%s: %w", l.key, domain.ErrLeaseLost)
	}
	held.expiresAt = now.Add(ttl)
	m.entries[l.key] = held
	return nil
}

// Release drops the lease. An expired lease may have been taken over; only the owner releases it.
func (l *memoryLease) Release() {
	m := l.locker
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.entries[l.key]; ok && held.token == l.token {
		delete(m.entries, l.key)
	}
}
