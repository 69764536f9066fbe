// Package store implements the configuration store for agents and
// sub-agents: versioned, tenant-scoped rows whose mutations run the
// atomic read-diff-write-audit-version sequence.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// Filter narrows a List call. Filters are applied at the storage layer,
// at the same level as the tenant scope, never left to the caller.
type Filter struct {
	// ActiveOnly restricts results to agents whose activation flag is set
	ActiveOnly bool
	// ParentID restricts results to sub-agents of one parent
	ParentID *uuid.UUID
	// RootOnly restricts results to top-level agents (no parent)
	RootOnly bool
}

// Store persists configurable entities. Implementations serialize
// concurrent updates to the same row so that each accepted mutation's
// diff is computed against the previously committed state
// (last-committed-write-wins), and insert the audit record and version
// bump atomically with the entity write.
//
// The store does not authorize: callers resolve and authorize before
// reaching it.
type Store interface {
	// Create inserts a new agent with version 1. The hierarchy is one
	// level deep: a parent must itself be a top-level agent, and a
	// sub-agent parent yields types.ErrInvalid. Returns
	// types.ErrConflict if the slug is taken within (tenant, parent).
	Create(ctx context.Context, agent *types.Agent) (*types.Agent, error)

	// Get retrieves an agent by ID
	Get(ctx context.Context, id uuid.UUID) (*types.Agent, error)

	// GetBySlug retrieves a top-level agent by slug within a tenant
	GetBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*types.Agent, error)

	// List retrieves a tenant's agents matching the filter
	List(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]*types.Agent, error)

	// Update applies a patch. The diff against the current row is
	// computed inside the same transaction that writes the new row. An
	// empty diff, or a nil principalID, is a no-op: no version bump, no
	// audit record, and a nil returned AuditRecord.
	Update(ctx context.Context, id uuid.UUID, principalID *uuid.UUID, patch *types.AgentPatch) (*types.Agent, *types.AuditRecord, error)

	// Delete removes an agent. For a parent it cascades to its
	// sub-agents and their knowledge records atomically; for a
	// sub-agent it cascades only its own knowledge records. Because the
	// hierarchy is one level deep this covers the whole tree. Returns
	// the deleted agents, parent first.
	Delete(ctx context.Context, id uuid.UUID) ([]*types.Agent, error)

	// AddKnowledge attaches a knowledge record to an agent
	AddKnowledge(ctx context.Context, rec *types.KnowledgeRecord) error

	// ListKnowledge retrieves an agent's knowledge records
	ListKnowledge(ctx context.Context, tenantID, agentID uuid.UUID) ([]*types.KnowledgeRecord, error)
}

// NewAgent builds an agent from caller-supplied fields, filling the
// configuration defaults the way the platform seeds new agents.
func NewAgent(tenantID uuid.UUID, parentID *uuid.UUID, name, slug, roleLabel string, createdBy *uuid.UUID) *types.Agent {
	icon := types.DefaultAgentIcon
	if parentID != nil {
		icon = types.DefaultWorkerIcon
	}
	now := time.Now().UTC()
	return &types.Agent{
		ID:           uuid.New(),
		TenantID:     tenantID,
		ParentID:     parentID,
		Name:         name,
		Slug:         slug,
		RoleLabel:    roleLabel,
		Icon:         icon,
		Model:        types.DefaultModel,
		Temperature:  types.DefaultTemperature,
		MaxTokens:    types.DefaultMaxTokens,
		Capabilities: types.DefaultCapabilities(),
		Category:     types.DefaultCategory,
		Active:       true,
		Version:      1,
		CreatedBy:    createdBy,
		ModifiedBy:   createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
