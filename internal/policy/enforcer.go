// Package policy implements the governance rule table. Authorize is a
// pure function of its inputs: it performs no storage access and relies
// on the caller having already resolved the principal's tenant, role,
// and activation state.
package policy

import (
	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// Effect is the authorization decision
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// EntityType identifies the kind of entity an operation targets
type EntityType string

const (
	// EntityAgentConfig covers agents and sub-agents
	EntityAgentConfig EntityType = "agent-config"
	// EntityAuditRecord covers the audit trail; writes are
	// system-internal and never map to a caller operation
	EntityAuditRecord EntityType = "audit-record"
	// EntityMembership covers the tenant membership list
	EntityMembership EntityType = "membership"
)

// Operation identifies what the caller wants to do
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Decision carries the already-resolved inputs for one authorization check
type Decision struct {
	CallerTenant uuid.UUID
	Role         types.Role
	Active       bool
	TargetTenant uuid.UUID
	EntityType   EntityType
	Operation    Operation
}

// Authorize evaluates the rule table for one operation.
//
// An inactive principal is denied everything regardless of role, and a
// cross-tenant request is denied regardless of role: the tenant boundary
// is checked before any rule that role would otherwise satisfy.
func Authorize(d Decision) Effect {
	if !d.Active {
		return EffectDeny
	}
	if d.CallerTenant != d.TargetTenant {
		return EffectDeny
	}

	switch d.EntityType {
	case EntityAgentConfig:
		if d.Operation == OpRead {
			return EffectAllow
		}
		return allowAdmin(d.Role)

	case EntityAuditRecord:
		// Reads are tenant-scoped; writes happen only as a side effect
		// of an accepted mutation, never directly by a caller.
		if d.Operation == OpRead {
			return EffectAllow
		}
		return EffectDeny

	case EntityMembership:
		// Read filtering (admin sees all, member sees self) happens at
		// the engine layer; here a member may read the list entity.
		if d.Operation == OpRead {
			return EffectAllow
		}
		return allowAdmin(d.Role)
	}

	return EffectDeny
}

// Allowed is a convenience wrapper returning a bool
func Allowed(d Decision) bool {
	return Authorize(d) == EffectAllow
}

func allowAdmin(role types.Role) Effect {
	if role == types.RoleAdmin {
		return EffectAllow
	}
	return EffectDeny
}
