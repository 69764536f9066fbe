package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// Store persists audit records. Records are write-once: there is no
// update or single-record delete. DeleteForAgent exists solely for the
// entity-delete cascade, where the referenced entity ceases to exist.
type Store interface {
	// Insert appends one audit record
	Insert(ctx context.Context, rec *types.AuditRecord) error

	// History returns a reverse-chronological page of records for one
	// agent, scoped to the given tenant
	History(ctx context.Context, tenantID, agentID uuid.UUID, limit, offset int) ([]*types.AuditRecord, error)

	// CountForAgent returns the number of records referencing an agent
	CountForAgent(ctx context.Context, agentID uuid.UUID) (int, error)

	// DeleteForAgent removes all records for an agent (delete cascade)
	DeleteForAgent(ctx context.Context, agentID uuid.UUID) error
}

// MemoryStore is an in-memory audit store
type MemoryStore struct {
	mu      sync.RWMutex
	byAgent map[uuid.UUID][]*types.AuditRecord
}

// NewMemoryStore creates a new in-memory audit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAgent: make(map[uuid.UUID][]*types.AuditRecord),
	}
}

// Insert appends one audit record
func (s *MemoryStore) Insert(ctx context.Context, rec *types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.byAgent[rec.AgentID] = append(s.byAgent[rec.AgentID], &cp)
	return nil
}

// History returns a reverse-chronological page of records for one agent
func (s *MemoryStore) History(ctx context.Context, tenantID, agentID uuid.UUID, limit, offset int) ([]*types.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*types.AuditRecord
	for _, rec := range s.byAgent[agentID] {
		if rec.TenantID != tenantID {
			continue
		}
		cp := *rec
		records = append(records, &cp)
	}

	// Records are appended in commit order; newest first for paging.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ChangedAt.After(records[j].ChangedAt)
	})

	if offset > 0 {
		if offset >= len(records) {
			return []*types.AuditRecord{}, nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

// CountForAgent returns the number of records referencing an agent
func (s *MemoryStore) CountForAgent(ctx context.Context, agentID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgent[agentID]), nil
}

// DeleteForAgent removes all records for an agent
func (s *MemoryStore) DeleteForAgent(ctx context.Context, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAgent, agentID)
	return nil
}
