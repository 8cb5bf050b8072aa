package claims

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ClaimStore manages claim persistence and the per-claim audit log.
//
// Update must persist the claim and append the given audit entries as
// one atomic unit: either both are durable or neither is. Sequence
// numbers are assigned by the store, monotonic and gapless per claim.
type ClaimStore interface {
	// Create adds a new claim.
	Create(c *Claim) error

	// Get retrieves a claim by ID.
	Get(id string) (*Claim, error)

	// List returns claims matching the filter, ordered by creation time.
	List(filter ClaimFilter) ([]*Claim, error)

	// Update persists the claim and appends audit entries atomically.
	Update(c *Claim, entries ...*AuditEntry) error

	// AuditLog returns the full ordered audit trail for a claim.
	AuditLog(claimID string) ([]*AuditEntry, error)
}

// InMemoryClaimStore implements ClaimStore using in-memory maps.
// Thread-safe with an RWMutex; claims are deep-copied on the way in
// and out so callers never mutate stored state directly.
type InMemoryClaimStore struct {
	claims map[string]*Claim
	audit  map[string][]*AuditEntry
	mu     sync.RWMutex
}

// NewInMemoryClaimStore creates an empty in-memory claim store.
func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		claims: make(map[string]*Claim),
		audit:  make(map[string][]*AuditEntry),
	}
}

// Create adds a new claim, enforcing unique IDs and setting timestamps.
func (s *InMemoryClaimStore) Create(c *Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[c.ID]; exists {
		return fmt.Errorf("claim with ID %s already exists", c.ID)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.claims[c.ID] = c.clone()
	return nil
}

// Get retrieves a claim by ID.
func (s *InMemoryClaimStore) Get(id string) (*Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.claims[id]
	if !exists {
		return nil, fmt.Errorf("claim %s: %w", id, ErrNotFound)
	}
	return c.clone(), nil
}

// List returns claims matching the filter, ordered by creation time
// then ID for a stable order.
func (s *InMemoryClaimStore) List(filter ClaimFilter) ([]*Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Claim
	for _, c := range s.claims {
		if filter.Matches(c) {
			out = append(out, c.clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update persists the claim and appends the audit entries under one
// lock acquisition, assigning the next sequence numbers.
func (s *InMemoryClaimStore) Update(c *Claim, entries ...*AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.claims[c.ID]
	if !exists {
		return fmt.Errorf("claim %s: %w", c.ID, ErrNotFound)
	}

	// Preserve the original creation timestamp.
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()

	seq := len(s.audit[c.ID])
	for _, e := range entries {
		seq++
		e.Seq = seq
		if e.At.IsZero() {
			e.At = c.UpdatedAt
		}
		s.audit[c.ID] = append(s.audit[c.ID], e)
	}

	s.claims[c.ID] = c.clone()
	return nil
}

// AuditLog returns the ordered audit trail for a claim.
func (s *InMemoryClaimStore) AuditLog(claimID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.claims[claimID]; !exists {
		return nil, fmt.Errorf("claim %s: %w", claimID, ErrNotFound)
	}

	log := s.audit[claimID]
	out := make([]*AuditEntry, len(log))
	for i, e := range log {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}
