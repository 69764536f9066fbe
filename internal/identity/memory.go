package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// MemoryStore is an in-memory principal store with O(1) lookups.
// Thread-safe using sync.RWMutex for concurrent access.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[uuid.UUID]*types.Principal
}

// NewMemoryStore creates a new in-memory principal store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[uuid.UUID]*types.Principal),
	}
}

// Create inserts a new principal
func (s *MemoryStore) Create(ctx context.Context, p *types.Principal) error {
	if p == nil {
		return fmt.Errorf("%w: principal cannot be nil", types.ErrInvalid)
	}
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalid, p.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.principals[p.ID]; exists {
		return fmt.Errorf("%w: principal %s already exists", types.ErrConflict, p.ID)
	}

	cp := *p
	if p.DeletedAt != nil {
		at := *p.DeletedAt
		cp.DeletedAt = &at
	}
	s.principals[p.ID] = &cp
	return nil
}

// Get retrieves a principal by ID, including soft-deleted rows
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*types.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.principals[id]
	if !exists {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}

	cp := *p
	if p.DeletedAt != nil {
		at := *p.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp, nil
}

// List retrieves all principals of a tenant
func (s *MemoryStore) List(ctx context.Context, tenantID uuid.UUID, includeDeleted bool) ([]*types.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Principal
	for _, p := range s.principals {
		if p.TenantID != tenantID {
			continue
		}
		if !includeDeleted && p.DeletedAt != nil {
			continue
		}
		cp := *p
		if p.DeletedAt != nil {
			at := *p.DeletedAt
			cp.DeletedAt = &at
		}
		results = append(results, &cp)
	}
	return results, nil
}

// SetRole changes a principal's role
func (s *MemoryStore) SetRole(ctx context.Context, id uuid.UUID, role types.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", types.ErrInvalid, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.principals[id]
	if !exists {
		return fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}
	p.Role = role
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetDeletedAt sets or clears the soft-delete timestamp
func (s *MemoryStore) SetDeletedAt(ctx context.Context, id uuid.UUID, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.principals[id]
	if !exists {
		return fmt.Errorf("%w: principal %s", types.ErrNotFound, id)
	}
	if at != nil {
		t := *at
		p.DeletedAt = &t
	} else {
		p.DeletedAt = nil
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
