package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-memory Repository used for tests and
// offline/dev operation. It holds the same invariants as the durable
// implementations: append-only, per-robot hash chains.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]Entry // chain key → ordered entries
	heads   map[string]string  // chain key → head hash
	clock   func() time.Time   // Injectable clock
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return NewMemoryRepositoryWithClock(time.Now)
}

// NewMemoryRepositoryWithClock allows tests to pin time.
func NewMemoryRepositoryWithClock(clock func() time.Time) *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string][]Entry),
		heads:   make(map[string]string),
		clock:   clock,
	}
}

func chainKey(tenantID, robotID string) string {
	return tenantID + "/" + robotID
}

// Append implements Repository.
func (m *MemoryRepository) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.TenantID == "" || e.RobotID == "" {
		return Entry{}, fmt.Errorf("ledger: tenant_id and robot_id are required")
	}
	if e.Type == "" {
		return Entry{}, fmt.Errorf("ledger: type is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := chainKey(e.TenantID, e.RobotID)
	prev, ok := m.heads[key]
	if !ok {
		prev = GenesisHash
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = m.clock().UTC().Truncate(TimestampPrecision)
	e.PrevHash = prev

	hash, err := ChainHash(e, prev)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	m.entries[key] = append(m.entries[key], e)
	m.heads[key] = hash
	return e, nil
}

// LatestByType implements Repository.
func (m *MemoryRepository) LatestByType(ctx context.Context, tenantID, robotID, entryType string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.entries[chainKey(tenantID, robotID)]
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].Type == entryType {
			return chain[i], nil
		}
	}
	return Entry{}, ErrNotFound
}

// ListByRobot implements Repository.
func (m *MemoryRepository) ListByRobot(ctx context.Context, tenantID, robotID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.entries[chainKey(tenantID, robotID)]
	out := make([]Entry, len(chain))
	copy(out, chain)
	return out, nil
}
