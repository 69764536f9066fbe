package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/internal/audit"
	"github.com/agentforge/govern/pkg/types"
)

// MemoryStore is an in-memory configuration store. A single mutex
// serializes mutations, standing in for the storage transaction: the
// read-diff-write-audit-version sequence runs entirely under the lock.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[uuid.UUID]*types.Agent
	knowledge map[uuid.UUID][]*types.KnowledgeRecord
	audits    audit.Store
	now       func() time.Time
}

// NewMemoryStore creates an in-memory store writing audit records to the
// given audit store
func NewMemoryStore(audits audit.Store) *MemoryStore {
	return &MemoryStore{
		agents:    make(map[uuid.UUID]*types.Agent),
		knowledge: make(map[uuid.UUID][]*types.KnowledgeRecord),
		audits:    audits,
		now:       time.Now,
	}
}

// Create inserts a new agent with version 1
func (s *MemoryStore) Create(ctx context.Context, agent *types.Agent) (*types.Agent, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: agent cannot be nil", types.ErrInvalid)
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if agent.ParentID != nil {
		parent, exists := s.agents[*agent.ParentID]
		if !exists || parent.TenantID != agent.TenantID {
			return nil, fmt.Errorf("%w: parent agent %s", types.ErrNotFound, *agent.ParentID)
		}
		// One level only; delete's cascade relies on this.
		if parent.ParentID != nil {
			return nil, fmt.Errorf("%w: parent agent %s is a sub-agent", types.ErrInvalid, *agent.ParentID)
		}
	}

	for _, existing := range s.agents {
		if existing.TenantID == agent.TenantID && existing.Slug == agent.Slug && sameParent(existing.ParentID, agent.ParentID) {
			return nil, fmt.Errorf("%w: slug %q already exists in scope", types.ErrConflict, agent.Slug)
		}
	}

	cp := agent.Clone()
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.Version = 1
	now := s.now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now

	s.agents[cp.ID] = cp
	return cp.Clone(), nil
}

// Get retrieves an agent by ID
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, exists := s.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
	}
	return agent.Clone(), nil
}

// GetBySlug retrieves a top-level agent by slug within a tenant
func (s *MemoryStore) GetBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, agent := range s.agents {
		if agent.TenantID == tenantID && agent.Slug == slug && agent.ParentID == nil {
			return agent.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: agent slug %q", types.ErrNotFound, slug)
}

// List retrieves a tenant's agents matching the filter
func (s *MemoryStore) List(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*types.Agent
	for _, agent := range s.agents {
		if agent.TenantID != tenantID {
			continue
		}
		if filter.ActiveOnly && !agent.Active {
			continue
		}
		if filter.RootOnly && agent.ParentID != nil {
			continue
		}
		if filter.ParentID != nil && !sameParent(agent.ParentID, filter.ParentID) {
			continue
		}
		results = append(results, agent.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].ID.String() < results[j].ID.String()
		}
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// Update applies a patch under the store lock. The diff is computed
// against the current row; an empty diff or nil principal is a no-op.
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, principalID *uuid.UUID, patch *types.AgentPatch) (*types.Agent, *types.AuditRecord, error) {
	if patch == nil {
		return nil, nil, fmt.Errorf("%w: patch cannot be nil", types.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before, exists := s.agents[id]
	if !exists {
		return nil, nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
	}

	after := before.Clone()
	patch.Apply(after)
	if err := after.Validate(); err != nil {
		return nil, nil, err
	}

	if patch.Slug != nil && *patch.Slug != before.Slug {
		for _, existing := range s.agents {
			if existing.ID != id && existing.TenantID == after.TenantID &&
				existing.Slug == after.Slug && sameParent(existing.ParentID, after.ParentID) {
				return nil, nil, fmt.Errorf("%w: slug %q already exists in scope", types.ErrConflict, after.Slug)
			}
		}
	}

	changes := audit.ComputeDiff(before, after)
	if len(changes) == 0 || principalID == nil {
		return before.Clone(), nil, nil
	}

	now := s.now().UTC()
	after.Version = before.Version + 1
	after.ModifiedBy = principalID
	after.UpdatedAt = now

	rec := &types.AuditRecord{
		ID:        uuid.New(),
		AgentID:   id,
		TenantID:  after.TenantID,
		ChangedBy: *principalID,
		ChangedAt: now,
		Changes:   changes,
		Previous:  audit.Snapshot(before),
	}
	if err := s.audits.Insert(ctx, rec); err != nil {
		// The lock is still held, so the row write below never happens
		// without its audit record.
		return nil, nil, fmt.Errorf("record audit: %w", err)
	}

	s.agents[id] = after
	return after.Clone(), rec, nil
}

// Delete removes an agent, cascading to sub-agents and knowledge records
func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) ([]*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, id)
	}

	deleted := []*types.Agent{agent.Clone()}
	for _, candidate := range s.agents {
		if candidate.ParentID != nil && *candidate.ParentID == id {
			deleted = append(deleted, candidate.Clone())
		}
	}

	for _, d := range deleted {
		delete(s.agents, d.ID)
		delete(s.knowledge, d.ID)
		if err := s.audits.DeleteForAgent(ctx, d.ID); err != nil {
			return nil, fmt.Errorf("cascade audit records: %w", err)
		}
	}
	return deleted, nil
}

// AddKnowledge attaches a knowledge record to an agent
func (s *MemoryStore) AddKnowledge(ctx context.Context, rec *types.KnowledgeRecord) error {
	if rec == nil || rec.Title == "" {
		return fmt.Errorf("%w: knowledge record requires a title", types.ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[rec.AgentID]
	if !exists || agent.TenantID != rec.TenantID {
		return fmt.Errorf("%w: agent %s", types.ErrNotFound, rec.AgentID)
	}

	cp := *rec
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.knowledge[rec.AgentID] = append(s.knowledge[rec.AgentID], &cp)
	return nil
}

// ListKnowledge retrieves an agent's knowledge records
func (s *MemoryStore) ListKnowledge(ctx context.Context, tenantID, agentID uuid.UUID) ([]*types.KnowledgeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, exists := s.agents[agentID]
	if !exists || agent.TenantID != tenantID {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}

	records := make([]*types.KnowledgeRecord, 0, len(s.knowledge[agentID]))
	for _, rec := range s.knowledge[agentID] {
		cp := *rec
		records = append(records, &cp)
	}
	return records, nil
}

func sameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
