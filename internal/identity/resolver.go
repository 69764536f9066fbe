package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// Identity is the resolver's answer for one principal
type Identity struct {
	PrincipalID uuid.UUID
	TenantID    uuid.UUID
	Role        types.Role
	Active      bool
}

// Resolver maps a principal identifier to its tenant, role, and
// activation state. Resolution is an unconditional, privileged lookup
// keyed only by principal ID: it must never consult the policy enforcer
// or any tenant-scoped visibility filter, since the enforcer itself
// depends on the resolver's output. A soft-deleted principal still
// resolves (the row persists for audit attribution) with Active=false.
type Resolver struct {
	store PrincipalStore
}

// NewResolver creates a resolver over the given principal store
func NewResolver(store PrincipalStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up a principal. Unknown IDs return types.ErrNotFound,
// which callers must treat identically to "unauthenticated".
func (r *Resolver) Resolve(ctx context.Context, principalID uuid.UUID) (*Identity, error) {
	p, err := r.store.Get(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return &Identity{
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		Role:        p.Role,
		Active:      p.Active(),
	}, nil
}

// Lifecycle manages principal soft deletion. There is no cache between
// the lifecycle and the resolver: a deactivation is visible to the
// resolver's next call with only the store's own read-after-write lag,
// so a deactivated principal's existing sessions lose all privileges on
// their very next request.
type Lifecycle struct {
	store PrincipalStore
	now   func() time.Time
}

// NewLifecycle creates a lifecycle manager over the given store
func NewLifecycle(store PrincipalStore) *Lifecycle {
	return &Lifecycle{store: store, now: time.Now}
}

// Deactivate soft-deletes a principal by setting its soft-delete
// timestamp. Idempotent: returns false if already deactivated.
func (l *Lifecycle) Deactivate(ctx context.Context, principalID uuid.UUID) (bool, error) {
	p, err := l.store.Get(ctx, principalID)
	if err != nil {
		return false, err
	}
	if p.DeletedAt != nil {
		return false, nil
	}
	at := l.now().UTC()
	if err := l.store.SetDeletedAt(ctx, principalID, &at); err != nil {
		return false, fmt.Errorf("deactivate principal %s: %w", principalID, err)
	}
	return true, nil
}

// Reactivate clears the soft-delete timestamp. Returns false if the
// principal is not currently deactivated.
func (l *Lifecycle) Reactivate(ctx context.Context, principalID uuid.UUID) (bool, error) {
	p, err := l.store.Get(ctx, principalID)
	if err != nil {
		return false, err
	}
	if p.DeletedAt == nil {
		return false, nil
	}
	if err := l.store.SetDeletedAt(ctx, principalID, nil); err != nil {
		return false, fmt.Errorf("reactivate principal %s: %w", principalID, err)
	}
	return true, nil
}

// IsActive reports whether the principal exists and is not soft-deleted
func (l *Lifecycle) IsActive(ctx context.Context, principalID uuid.UUID) (bool, error) {
	p, err := l.store.Get(ctx, principalID)
	if err != nil {
		return false, err
	}
	return p.Active(), nil
}
