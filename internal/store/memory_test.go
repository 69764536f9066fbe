package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/govern/internal/audit"
	"github.com/agentforge/govern/pkg/types"
)

func newTestStore() (*MemoryStore, *audit.MemoryStore) {
	audits := audit.NewMemoryStore()
	return NewMemoryStore(audits), audits
}

func createAgent(t *testing.T, s *MemoryStore, tenantID uuid.UUID) *types.Agent {
	t.Helper()
	creator := uuid.New()
	agent, err := s.Create(context.Background(),
		NewAgent(tenantID, nil, "Support Agent", "support-"+uuid.NewString()[:8], "Customer Support", &creator))
	require.NoError(t, err)
	return agent
}

func strPtr(s string) *string { return &s }

func TestCreateAppliesDefaults(t *testing.T) {
	s, _ := newTestStore()
	creator := uuid.New()
	tenantID := uuid.New()

	agent, err := s.Create(context.Background(),
		NewAgent(tenantID, nil, "Helper", "helper", "Assistant", &creator))
	require.NoError(t, err)

	assert.Equal(t, types.DefaultModel, agent.Model)
	assert.Equal(t, types.DefaultTemperature, agent.Temperature)
	assert.Equal(t, types.DefaultMaxTokens, agent.MaxTokens)
	assert.Equal(t, types.DefaultCategory, agent.Category)
	assert.Equal(t, types.DefaultAgentIcon, agent.Icon)
	assert.True(t, agent.Capabilities.RAGEnabled)
	assert.True(t, agent.Active)
	assert.Equal(t, 1, agent.Version)
}

func TestCreateSubAgentDefaults(t *testing.T) {
	s, _ := newTestStore()
	tenantID := uuid.New()
	parent := createAgent(t, s, tenantID)
	creator := uuid.New()

	sub, err := s.Create(context.Background(),
		NewAgent(tenantID, &parent.ID, "Worker", "worker", "Research", &creator))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultWorkerIcon, sub.Icon)
	require.NotNil(t, sub.ParentID)
	assert.Equal(t, parent.ID, *sub.ParentID)
}

func TestCreateSubAgentUnknownParent(t *testing.T) {
	s, _ := newTestStore()
	tenantID := uuid.New()
	missing := uuid.New()
	creator := uuid.New()

	_, err := s.Create(context.Background(),
		NewAgent(tenantID, &missing, "Worker", "worker", "Research", &creator))
	assert.True(t, types.IsNotFound(err))
}

func TestCreateSubAgentCrossTenantParent(t *testing.T) {
	s, _ := newTestStore()
	parent := createAgent(t, s, uuid.New())
	creator := uuid.New()

	_, err := s.Create(context.Background(),
		NewAgent(uuid.New(), &parent.ID, "Worker", "worker", "Research", &creator))
	assert.True(t, types.IsNotFound(err), "a parent in another tenant must look nonexistent")
}

func TestCreateRejectsSubAgentParent(t *testing.T) {
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()
	parent := createAgent(t, s, tenantID)

	child, err := s.Create(context.Background(),
		NewAgent(tenantID, &parent.ID, "Worker", "worker", "Research", &creator))
	require.NoError(t, err)

	_, err = s.Create(context.Background(),
		NewAgent(tenantID, &child.ID, "Deep Worker", "deep-worker", "Research", &creator))
	assert.True(t, types.IsInvalid(err), "a sub-agent cannot be a parent")

	// With nesting rejected, the cascade always removes the full tree.
	deleted, err := s.Delete(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	_, err = s.Get(context.Background(), child.ID)
	assert.True(t, types.IsNotFound(err))
}

func TestCreateSlugConflict(t *testing.T) {
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()

	_, err := s.Create(context.Background(), NewAgent(tenantID, nil, "One", "shared", "A", &creator))
	require.NoError(t, err)

	_, err = s.Create(context.Background(), NewAgent(tenantID, nil, "Two", "shared", "B", &creator))
	assert.True(t, types.IsConflict(err))

	// Same slug in another tenant is fine.
	_, err = s.Create(context.Background(), NewAgent(uuid.New(), nil, "Three", "shared", "C", &creator))
	assert.NoError(t, err)
}

func TestSlugScopedPerParent(t *testing.T) {
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()
	parentA := createAgent(t, s, tenantID)
	parentB := createAgent(t, s, tenantID)

	_, err := s.Create(context.Background(), NewAgent(tenantID, &parentA.ID, "W1", "worker", "R", &creator))
	require.NoError(t, err)

	// Same slug under a different parent is a different scope.
	_, err = s.Create(context.Background(), NewAgent(tenantID, &parentB.ID, "W2", "worker", "R", &creator))
	assert.NoError(t, err)

	// Same slug under the same parent conflicts.
	_, err = s.Create(context.Background(), NewAgent(tenantID, &parentA.ID, "W3", "worker", "R", &creator))
	assert.True(t, types.IsConflict(err))
}

func TestUpdateBumpsVersionAndRecordsAudit(t *testing.T) {
	ctx := context.Background()
	s, audits := newTestStore()
	agent := createAgent(t, s, uuid.New())
	editor := uuid.New()

	updated, rec, err := s.Update(ctx, agent.ID, &editor, &types.AgentPatch{Name: strPtr("Renamed")})
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Renamed", updated.Name)
	require.NotNil(t, updated.ModifiedBy)
	assert.Equal(t, editor, *updated.ModifiedBy)

	assert.Equal(t, editor, rec.ChangedBy)
	assert.Contains(t, rec.Changes, audit.FieldName)
	assert.Equal(t, "Support Agent", rec.Previous[audit.FieldName])

	count, err := audits.CountForAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateNoOpProducesNoRecord(t *testing.T) {
	ctx := context.Background()
	s, audits := newTestStore()
	agent := createAgent(t, s, uuid.New())
	editor := uuid.New()

	// Writing the value already present changes nothing.
	updated, rec, err := s.Update(ctx, agent.ID, &editor, &types.AgentPatch{Name: strPtr(agent.Name)})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, updated.Version)

	count, err := audits.CountForAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateInvalidPatchRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	agent := createAgent(t, s, uuid.New())
	editor := uuid.New()
	badTemp := 3.0

	_, _, err := s.Update(ctx, agent.ID, &editor, &types.AgentPatch{Temperature: &badTemp})
	assert.True(t, types.IsInvalid(err))

	// Rejected writes leave the row untouched.
	current, err := s.Get(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
	assert.Equal(t, types.DefaultTemperature, current.Temperature)
}

func TestUpdateSlugConflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()

	_, err := s.Create(ctx, NewAgent(tenantID, nil, "One", "first", "A", &creator))
	require.NoError(t, err)
	second, err := s.Create(ctx, NewAgent(tenantID, nil, "Two", "second", "B", &creator))
	require.NoError(t, err)

	_, _, err = s.Update(ctx, second.ID, &creator, &types.AgentPatch{Slug: strPtr("first")})
	assert.True(t, types.IsConflict(err))
}

func TestAuditCountTracksVersion(t *testing.T) {
	ctx := context.Background()
	s, audits := newTestStore()
	agent := createAgent(t, s, uuid.New())
	editor := uuid.New()

	names := []string{"One", "Two", "Three", "Four"}
	for _, name := range names {
		_, rec, err := s.Update(ctx, agent.ID, &editor, &types.AgentPatch{Name: strPtr(name)})
		require.NoError(t, err)
		require.NotNil(t, rec)
	}

	current, err := s.Get(ctx, agent.ID)
	require.NoError(t, err)
	count, err := audits.CountForAgent(ctx, agent.ID)
	require.NoError(t, err)

	// Version starts at 1 with no record, then moves in lockstep.
	assert.Equal(t, current.Version-1, count)
	assert.Equal(t, 5, current.Version)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s, audits := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()
	parent := createAgent(t, s, tenantID)

	sub, err := s.Create(ctx, NewAgent(tenantID, &parent.ID, "Worker", "worker", "R", &creator))
	require.NoError(t, err)

	_, rec, err := s.Update(ctx, sub.ID, &creator, &types.AgentPatch{Name: strPtr("Renamed")})
	require.NoError(t, err)
	require.NotNil(t, rec)

	require.NoError(t, s.AddKnowledge(ctx, &types.KnowledgeRecord{
		TenantID: tenantID, AgentID: sub.ID, Title: "Doc",
	}))

	deleted, err := s.Delete(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Equal(t, parent.ID, deleted[0].ID, "parent first")

	_, err = s.Get(ctx, parent.ID)
	assert.True(t, types.IsNotFound(err))
	_, err = s.Get(ctx, sub.ID)
	assert.True(t, types.IsNotFound(err))

	count, err := audits.CountForAgent(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "audit records cascade with the entity")

	_, err = s.ListKnowledge(ctx, tenantID, sub.ID)
	assert.True(t, types.IsNotFound(err))
}

func TestDeleteSubAgentLeavesParent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()
	parent := createAgent(t, s, tenantID)
	sub, err := s.Create(ctx, NewAgent(tenantID, &parent.ID, "Worker", "worker", "R", &creator))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, deleted, 1)

	_, err = s.Get(ctx, parent.ID)
	assert.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()

	parent := createAgent(t, s, tenantID)
	sub, err := s.Create(ctx, NewAgent(tenantID, &parent.ID, "Worker", "worker", "R", &creator))
	require.NoError(t, err)

	inactive := false
	_, rec, err := s.Update(ctx, sub.ID, &creator, &types.AgentPatch{Active: &inactive})
	require.NoError(t, err)
	require.NotNil(t, rec)

	all, err := s.List(ctx, tenantID, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.List(ctx, tenantID, Filter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	roots, err := s.List(ctx, tenantID, Filter{RootOnly: true})
	require.NoError(t, err)
	assert.Len(t, roots, 1)
	assert.Equal(t, parent.ID, roots[0].ID)

	children, err := s.List(ctx, tenantID, Filter{ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Len(t, children, 1)
	assert.Equal(t, sub.ID, children[0].ID)

	// Other tenants see nothing.
	other, err := s.List(ctx, uuid.New(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGetBySlugTopLevelOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	tenantID := uuid.New()
	creator := uuid.New()

	parent, err := s.Create(ctx, NewAgent(tenantID, nil, "Parent", "parent", "A", &creator))
	require.NoError(t, err)
	_, err = s.Create(ctx, NewAgent(tenantID, &parent.ID, "Worker", "worker", "R", &creator))
	require.NoError(t, err)

	found, err := s.GetBySlug(ctx, tenantID, "parent")
	require.NoError(t, err)
	assert.Equal(t, parent.ID, found.ID)

	// Sub-agent slugs are not addressable at the top level.
	_, err = s.GetBySlug(ctx, tenantID, "worker")
	assert.True(t, types.IsNotFound(err))
}

func TestKnowledgeLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	tenantID := uuid.New()
	agent := createAgent(t, s, tenantID)

	require.NoError(t, s.AddKnowledge(ctx, &types.KnowledgeRecord{
		TenantID: tenantID, AgentID: agent.ID, Title: "FAQ", Content: "answers",
	}))

	records, err := s.ListKnowledge(ctx, tenantID, agent.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "FAQ", records[0].Title)
	assert.NotEqual(t, uuid.Nil, records[0].ID)

	// Tenant mismatch looks like a missing agent.
	err = s.AddKnowledge(ctx, &types.KnowledgeRecord{
		TenantID: uuid.New(), AgentID: agent.ID, Title: "X",
	})
	assert.True(t, types.IsNotFound(err))

	err = s.AddKnowledge(ctx, &types.KnowledgeRecord{TenantID: tenantID, AgentID: agent.ID})
	assert.True(t, types.IsInvalid(err), "title is required")
}
