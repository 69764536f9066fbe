package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/agentforge/govern/pkg/types"
)

func TestAuthorize(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()

	tests := []struct {
		name string
		d    Decision
		want Effect
	}{
		{
			"admin creates agent in own tenant",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityAgentConfig, OpCreate},
			EffectAllow,
		},
		{
			"admin updates agent in own tenant",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityAgentConfig, OpUpdate},
			EffectAllow,
		},
		{
			"admin deletes agent in own tenant",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityAgentConfig, OpDelete},
			EffectAllow,
		},
		{
			"member reads agent in own tenant",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityAgentConfig, OpRead},
			EffectAllow,
		},
		{
			"member cannot create agent",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityAgentConfig, OpCreate},
			EffectDeny,
		},
		{
			"member cannot update agent",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityAgentConfig, OpUpdate},
			EffectDeny,
		},
		{
			"member cannot delete agent",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityAgentConfig, OpDelete},
			EffectDeny,
		},
		{
			"admin cannot reach another tenant",
			Decision{tenantA, types.RoleAdmin, true, tenantB, EntityAgentConfig, OpRead},
			EffectDeny,
		},
		{
			"admin cannot write another tenant",
			Decision{tenantA, types.RoleAdmin, true, tenantB, EntityAgentConfig, OpUpdate},
			EffectDeny,
		},
		{
			"inactive admin denied everything",
			Decision{tenantA, types.RoleAdmin, false, tenantA, EntityAgentConfig, OpRead},
			EffectDeny,
		},
		{
			"inactive member denied reads",
			Decision{tenantA, types.RoleMember, false, tenantA, EntityAgentConfig, OpRead},
			EffectDeny,
		},
		{
			"member reads audit records",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityAuditRecord, OpRead},
			EffectAllow,
		},
		{
			"admin cannot write audit records directly",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityAuditRecord, OpCreate},
			EffectDeny,
		},
		{
			"admin cannot delete audit records",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityAuditRecord, OpDelete},
			EffectDeny,
		},
		{
			"admin updates membership",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityMembership, OpUpdate},
			EffectAllow,
		},
		{
			"member cannot update membership",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityMembership, OpUpdate},
			EffectDeny,
		},
		{
			"member reads membership",
			Decision{tenantA, types.RoleMember, true, tenantA, EntityMembership, OpRead},
			EffectAllow,
		},
		{
			"unknown entity type denied",
			Decision{tenantA, types.RoleAdmin, true, tenantA, EntityType("widget"), OpRead},
			EffectDeny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.d))
		})
	}
}

func TestAuthorizeIsPure(t *testing.T) {
	tenant := uuid.New()
	d := Decision{tenant, types.RoleAdmin, true, tenant, EntityAgentConfig, OpUpdate}

	// Same inputs, same answer, every time.
	for i := 0; i < 100; i++ {
		assert.Equal(t, EffectAllow, Authorize(d))
	}
	assert.True(t, Allowed(d))
}
