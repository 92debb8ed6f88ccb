package publish

import (
	"context"
	"sync"
	"time"
)

type claim struct {
	owner   string
	expires time.Time
}

// MemoryClaims is a process-local ClaimStore. It is enough when a single
// instance runs both the scheduler and the chat handlers.
type MemoryClaims struct {
	mu     sync.Mutex
	claims map[string]claim
	now    func() time.Time
}

// NewMemoryClaims returns an empty store on the wall clock.
func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{claims: make(map[string]claim), now: time.Now}
}

// Claim takes the lease on itemID unless another owner holds an unexpired one.
func (m *MemoryClaims) Claim(_ context.Context, itemID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if c, ok := m.claims[itemID]; ok && c.owner != owner && now.Before(c.expires) {
		return false, nil
	}
	m.claims[itemID] = claim{owner: owner, expires: now.Add(ttl)}
	// opportunistic cleanup keeps the map bounded by the number of in-flight items
	for id, c := range m.claims {
		if !now.Before(c.expires) {
			delete(m.claims, id)
		}
	}
	return true, nil
}

// Release drops the lease if owner still holds it.
func (m *MemoryClaims) Release(_ context.Context, itemID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[itemID]; ok && c.owner == owner {
		delete(m.claims, itemID)
	}
	return nil
}
