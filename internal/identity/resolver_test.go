package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/govern/pkg/types"
)

func seedPrincipal(t *testing.T, store PrincipalStore, tenantID uuid.UUID, role types.Role) *types.Principal {
	t.Helper()
	p := &types.Principal{
		ID:       uuid.New(),
		TenantID: tenantID,
		Email:    uuid.NewString() + "@example.com",
		Role:     role,
	}
	require.NoError(t, store.Create(context.Background(), p))
	return p
}

func TestResolverResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)
	tenantID := uuid.New()

	p := seedPrincipal(t, store, tenantID, types.RoleAdmin)

	id, err := resolver.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id.PrincipalID)
	assert.Equal(t, tenantID, id.TenantID)
	assert.Equal(t, types.RoleAdmin, id.Role)
	assert.True(t, id.Active)
}

func TestResolverUnknownPrincipal(t *testing.T) {
	resolver := NewResolver(NewMemoryStore())

	_, err := resolver.Resolve(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, types.IsNotFound(err))
}

func TestResolverSoftDeletedStillResolves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store)

	p := seedPrincipal(t, store, uuid.New(), types.RoleAdmin)
	at := time.Now().UTC()
	require.NoError(t, store.SetDeletedAt(ctx, p.ID, &at))

	// The row persists for audit attribution; only Active flips.
	id, err := resolver.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, id.Active)
	assert.Equal(t, types.RoleAdmin, id.Role)
}

func TestLifecycleDeactivateReactivate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lc := NewLifecycle(store)

	p := seedPrincipal(t, store, uuid.New(), types.RoleMember)

	active, err := lc.IsActive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, active)

	changed, err := lc.Deactivate(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	active, err = lc.IsActive(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, active)

	// Idempotent: a second deactivation is a no-op.
	changed, err = lc.Deactivate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = lc.Reactivate(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	active, err = lc.IsActive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, active)

	changed, err = lc.Reactivate(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLifecycleUnknownPrincipal(t *testing.T) {
	lc := NewLifecycle(NewMemoryStore())

	_, err := lc.Deactivate(context.Background(), uuid.New())
	assert.True(t, types.IsNotFound(err))

	_, err = lc.Reactivate(context.Background(), uuid.New())
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := uuid.New()
	tenantB := uuid.New()

	seedPrincipal(t, store, tenantA, types.RoleAdmin)
	deleted := seedPrincipal(t, store, tenantA, types.RoleMember)
	seedPrincipal(t, store, tenantB, types.RoleAdmin)

	at := time.Now().UTC()
	require.NoError(t, store.SetDeletedAt(ctx, deleted.ID, &at))

	visible, err := store.List(ctx, tenantA, false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	all, err := store.List(ctx, tenantA, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedPrincipal(t, store, uuid.New(), types.RoleAdmin)

	err := store.Create(ctx, p)
	assert.True(t, types.IsConflict(err))
}

func TestMemoryStoreSetRole(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := seedPrincipal(t, store, uuid.New(), types.RoleMember)

	require.NoError(t, store.SetRole(ctx, p.ID, types.RoleAdmin))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, got.Role)

	assert.True(t, types.IsInvalid(store.SetRole(ctx, p.ID, types.Role("owner"))))
}
