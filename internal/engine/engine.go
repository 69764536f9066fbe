// Package engine wires the governance pipeline: resolve the caller,
// authorize the operation, apply it at the store (audit and version
// bump commit with the entity write), then fan the change out to
// subscribers. Reads skip the audit and propagation stages.
//
// Every operation takes the caller's principal ID explicitly; there is
// no ambient current-user state, so the engine is callable from
// concurrent, stateless request handlers.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentforge/govern/internal/audit"
	"github.com/agentforge/govern/internal/identity"
	"github.com/agentforge/govern/internal/metrics"
	"github.com/agentforge/govern/internal/policy"
	"github.com/agentforge/govern/internal/propagate"
	"github.com/agentforge/govern/internal/store"
	"github.com/agentforge/govern/pkg/types"
)

// Engine is the governance facade over the resolver, enforcer, store,
// recorder, and propagator
type Engine struct {
	resolver   *identity.Resolver
	lifecycle  *identity.Lifecycle
	principals identity.PrincipalStore
	agents     store.Store
	audits     audit.Store
	bus        propagate.Bus
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Config assembles an engine from its components
type Config struct {
	Principals identity.PrincipalStore
	Agents     store.Store
	Audits     audit.Store
	Bus        propagate.Bus
	Metrics    *metrics.Metrics // optional
	Logger     *zap.Logger      // optional
}

// New creates a governance engine
func New(cfg Config) (*Engine, error) {
	if cfg.Principals == nil {
		return nil, fmt.Errorf("principal store is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent store is required")
	}
	if cfg.Audits == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("change bus is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		resolver:   identity.NewResolver(cfg.Principals),
		lifecycle:  identity.NewLifecycle(cfg.Principals),
		principals: cfg.Principals,
		agents:     cfg.Agents,
		audits:     cfg.Audits,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// CreateSpec carries the caller-supplied fields for a new agent.
// Overrides tune the configuration defaults before validation.
type CreateSpec struct {
	TenantID  uuid.UUID
	ParentID  *uuid.UUID
	Name      string
	Slug      string
	RoleLabel string
	Overrides types.AgentPatch
}

// caller resolves and gates the calling principal. An unknown or
// soft-deleted principal gets types.ErrNotFound: deactivation must look
// exactly like "unauthenticated" to the caller's very next request.
func (e *Engine) caller(ctx context.Context, principalID uuid.UUID) (*identity.Identity, error) {
	id, err := e.resolver.Resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !id.Active {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, principalID)
	}
	return id, nil
}

// authorize runs the enforcer and records the decision
func (e *Engine) authorize(id *identity.Identity, targetTenant uuid.UUID, entityType policy.EntityType, op policy.Operation) policy.Effect {
	effect := policy.Authorize(policy.Decision{
		CallerTenant: id.TenantID,
		Role:         id.Role,
		Active:       id.Active,
		TargetTenant: targetTenant,
		EntityType:   entityType,
		Operation:    op,
	})
	if e.metrics != nil {
		e.metrics.RecordAuthorize(string(effect), string(entityType), string(op))
	}
	return effect
}

// CreateAgent creates an agent or sub-agent. Admin only.
func (e *Engine) CreateAgent(ctx context.Context, callerID uuid.UUID, spec CreateSpec) (*types.Agent, error) {
	started := time.Now()

	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if id.TenantID != spec.TenantID {
		return nil, fmt.Errorf("%w: tenant %s", types.ErrNotFound, spec.TenantID)
	}
	if e.authorize(id, spec.TenantID, policy.EntityAgentConfig, policy.OpCreate) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: create agent", types.ErrDenied)
	}

	agent := store.NewAgent(spec.TenantID, spec.ParentID, spec.Name, spec.Slug, spec.RoleLabel, &callerID)
	spec.Overrides.Apply(agent)

	created, err := e.agents.Create(ctx, agent)
	if err != nil {
		return nil, err
	}

	e.publish(&types.ChangeEvent{Kind: types.EventCreated, TenantID: created.TenantID, Agent: created})
	e.observeMutation("create", started)
	e.logger.Info("agent created",
		zap.String("agent_id", created.ID.String()),
		zap.String("tenant_id", created.TenantID.String()),
		zap.String("slug", created.Slug),
		zap.Bool("sub_agent", created.ParentID != nil),
	)
	return created, nil
}

// GetAgent retrieves one agent. Any active principal of the owning
// tenant may read; everyone else sees types.ErrNotFound.
func (e *Engine) GetAgent(ctx context.Context, callerID, agentID uuid.UUID) (*types.Agent, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	agent, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, agent.TenantID, policy.EntityAgentConfig, policy.OpRead) != policy.EffectAllow {
		// NotFound, not Denied: existence must not leak across tenants.
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}
	return agent, nil
}

// GetAgentBySlug retrieves a top-level agent by slug within the
// caller's tenant
func (e *Engine) GetAgentBySlug(ctx context.Context, callerID uuid.UUID, tenantID uuid.UUID, slug string) (*types.Agent, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, tenantID, policy.EntityAgentConfig, policy.OpRead) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: agent slug %q", types.ErrNotFound, slug)
	}
	return e.agents.GetBySlug(ctx, tenantID, slug)
}

// ListAgents lists a tenant's agents. The filter is applied at the
// storage layer, alongside the tenant scope.
func (e *Engine) ListAgents(ctx context.Context, callerID uuid.UUID, tenantID uuid.UUID, filter store.Filter) ([]*types.Agent, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, tenantID, policy.EntityAgentConfig, policy.OpRead) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: tenant %s", types.ErrNotFound, tenantID)
	}
	return e.agents.List(ctx, tenantID, filter)
}

// UpdateAgent applies a patch to an agent. Admin only. A patch that
// changes no tracked field is a no-op: no version bump, no audit
// record, no change event.
func (e *Engine) UpdateAgent(ctx context.Context, callerID, agentID uuid.UUID, patch *types.AgentPatch) (*types.Agent, error) {
	started := time.Now()

	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	current, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if id.TenantID != current.TenantID {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}
	if e.authorize(id, current.TenantID, policy.EntityAgentConfig, policy.OpUpdate) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: update agent", types.ErrDenied)
	}

	updated, rec, err := e.agents.Update(ctx, agentID, &callerID, patch)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return updated, nil
	}

	if e.metrics != nil {
		e.metrics.RecordAuditRecord()
	}
	e.publish(&types.ChangeEvent{Kind: types.EventUpdated, TenantID: updated.TenantID, Agent: updated})
	e.observeMutation("update", started)
	e.logger.Info("agent updated",
		zap.String("agent_id", agentID.String()),
		zap.Int("version", updated.Version),
		zap.Int("changed_fields", len(rec.Changes)),
	)
	return updated, nil
}

// DeleteAgent hard-deletes an agent, cascading to sub-agents and
// knowledge records. Admin only. Deactivation via UpdateAgent is the
// normal decommission path; deletion removes the audit trail with the
// entity.
func (e *Engine) DeleteAgent(ctx context.Context, callerID, agentID uuid.UUID) error {
	started := time.Now()

	id, err := e.caller(ctx, callerID)
	if err != nil {
		return err
	}
	current, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if id.TenantID != current.TenantID {
		return fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}
	if e.authorize(id, current.TenantID, policy.EntityAgentConfig, policy.OpDelete) != policy.EffectAllow {
		return fmt.Errorf("%w: delete agent", types.ErrDenied)
	}

	deleted, err := e.agents.Delete(ctx, agentID)
	if err != nil {
		return err
	}

	// One event per removed row so subscribers drop cascaded
	// sub-agents from their views as well.
	for _, d := range deleted {
		e.publish(&types.ChangeEvent{Kind: types.EventDeleted, TenantID: d.TenantID, Agent: d})
	}
	e.observeMutation("delete", started)
	e.logger.Info("agent deleted",
		zap.String("agent_id", agentID.String()),
		zap.Int("cascaded", len(deleted)-1),
	)
	return nil
}

// History returns a reverse-chronological page of an agent's audit
// records, readable by any active principal of the owning tenant.
func (e *Engine) History(ctx context.Context, callerID, agentID uuid.UUID, limit, offset int) ([]*types.AuditRecord, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	agent, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, agent.TenantID, policy.EntityAuditRecord, policy.OpRead) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}
	return e.audits.History(ctx, agent.TenantID, agentID, limit, offset)
}

// AddKnowledge attaches a knowledge record to an agent. Admin only,
// like any other mutation of the agent's configuration surface.
func (e *Engine) AddKnowledge(ctx context.Context, callerID uuid.UUID, rec *types.KnowledgeRecord) error {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: knowledge record cannot be nil", types.ErrInvalid)
	}
	if id.TenantID != rec.TenantID {
		return fmt.Errorf("%w: agent %s", types.ErrNotFound, rec.AgentID)
	}
	if e.authorize(id, rec.TenantID, policy.EntityAgentConfig, policy.OpUpdate) != policy.EffectAllow {
		return fmt.Errorf("%w: add knowledge", types.ErrDenied)
	}
	return e.agents.AddKnowledge(ctx, rec)
}

// ListKnowledge retrieves an agent's knowledge records
func (e *Engine) ListKnowledge(ctx context.Context, callerID, agentID uuid.UUID) ([]*types.KnowledgeRecord, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	agent, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, agent.TenantID, policy.EntityAgentConfig, policy.OpRead) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: agent %s", types.ErrNotFound, agentID)
	}
	return e.agents.ListKnowledge(ctx, agent.TenantID, agentID)
}

// ListMembers lists the caller's tenant membership. An admin sees all
// members; a member sees only itself.
func (e *Engine) ListMembers(ctx context.Context, callerID uuid.UUID, includeDeleted bool) ([]*types.Principal, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if e.authorize(id, id.TenantID, policy.EntityMembership, policy.OpRead) != policy.EffectAllow {
		return nil, fmt.Errorf("%w: membership", types.ErrNotFound)
	}

	if id.Role != types.RoleAdmin {
		self, err := e.principals.Get(ctx, callerID)
		if err != nil {
			return nil, err
		}
		return []*types.Principal{self}, nil
	}
	return e.principals.List(ctx, id.TenantID, includeDeleted)
}

// GetMember retrieves one member of the caller's tenant. A member may
// only retrieve itself; anything else is types.ErrNotFound.
func (e *Engine) GetMember(ctx context.Context, callerID, memberID uuid.UUID) (*types.Principal, error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if id.Role != types.RoleAdmin && callerID != memberID {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, memberID)
	}

	member, err := e.principals.Get(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.TenantID != id.TenantID {
		return nil, fmt.Errorf("%w: principal %s", types.ErrNotFound, memberID)
	}
	return member, nil
}

// ChangeMemberRole changes a same-tenant member's role. Admin only.
func (e *Engine) ChangeMemberRole(ctx context.Context, callerID, memberID uuid.UUID, role types.Role) error {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return err
	}
	member, err := e.principals.Get(ctx, memberID)
	if err != nil {
		return err
	}
	if member.TenantID != id.TenantID {
		return fmt.Errorf("%w: principal %s", types.ErrNotFound, memberID)
	}
	if e.authorize(id, member.TenantID, policy.EntityMembership, policy.OpUpdate) != policy.EffectAllow {
		return fmt.Errorf("%w: change member role", types.ErrDenied)
	}
	return e.principals.SetRole(ctx, memberID, role)
}

// DeactivateMember soft-deletes a same-tenant member. Admin only.
// Idempotent: returns false if the member was already deactivated.
func (e *Engine) DeactivateMember(ctx context.Context, callerID, memberID uuid.UUID) (bool, error) {
	if err := e.authorizeLifecycle(ctx, callerID, memberID); err != nil {
		return false, err
	}
	changed, err := e.lifecycle.Deactivate(ctx, memberID)
	if err != nil {
		return false, err
	}
	if changed {
		e.logger.Info("principal deactivated",
			zap.String("principal_id", memberID.String()),
			zap.String("by", callerID.String()),
		)
	}
	return changed, nil
}

// ReactivateMember clears a same-tenant member's soft delete. Admin
// only. Returns false if the member was not deactivated.
func (e *Engine) ReactivateMember(ctx context.Context, callerID, memberID uuid.UUID) (bool, error) {
	if err := e.authorizeLifecycle(ctx, callerID, memberID); err != nil {
		return false, err
	}
	changed, err := e.lifecycle.Reactivate(ctx, memberID)
	if err != nil {
		return false, err
	}
	if changed {
		e.logger.Info("principal reactivated",
			zap.String("principal_id", memberID.String()),
			zap.String("by", callerID.String()),
		)
	}
	return changed, nil
}

func (e *Engine) authorizeLifecycle(ctx context.Context, callerID, memberID uuid.UUID) error {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return err
	}
	member, err := e.principals.Get(ctx, memberID)
	if err != nil {
		return err
	}
	if member.TenantID != id.TenantID {
		return fmt.Errorf("%w: principal %s", types.ErrNotFound, memberID)
	}
	if e.authorize(id, member.TenantID, policy.EntityMembership, policy.OpUpdate) != policy.EffectAllow {
		return fmt.Errorf("%w: member lifecycle", types.ErrDenied)
	}
	return nil
}

// Subscribe opens a reconciliation-op stream for the caller's tenant.
// The returned release function closes the subscription; after a
// disconnect the client must perform a full list call, since no events
// are replayed.
func (e *Engine) Subscribe(ctx context.Context, callerID uuid.UUID, tenantID uuid.UUID, activeOnly bool) (*propagate.Subscription, func(), error) {
	id, err := e.caller(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	if e.authorize(id, tenantID, policy.EntityAgentConfig, policy.OpRead) != policy.EffectAllow {
		return nil, nil, fmt.Errorf("%w: tenant %s", types.ErrNotFound, tenantID)
	}

	sub, err := e.bus.Subscribe(tenantID, activeOnly)
	if err != nil {
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.SubscriberConnected()
	}

	release := func() {
		sub.Close()
		if e.metrics != nil {
			e.metrics.SubscriberDisconnected()
		}
	}
	return sub, release, nil
}

// publish emits a change event after the mutation has committed; the
// bus never blocks or fails the mutation path
func (e *Engine) publish(event *types.ChangeEvent) {
	e.bus.Publish(event)
	if e.metrics != nil {
		e.metrics.RecordEventPublished()
	}
}

func (e *Engine) observeMutation(kind string, started time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordMutation(kind)
	e.metrics.ObserveMutationDuration(time.Since(started).Seconds())
}
