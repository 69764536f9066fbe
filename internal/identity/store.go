// Package identity provides principal storage, the tenant/role resolver,
// and the soft-delete lifecycle.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentforge/govern/pkg/types"
)

// PrincipalStore persists principals. Implementations must be safe for
// concurrent use. Principals are never hard-deleted: audit attribution
// requires the row to persist.
type PrincipalStore interface {
	// Create inserts a new principal
	Create(ctx context.Context, p *types.Principal) error

	// Get retrieves a principal by ID, including soft-deleted rows
	Get(ctx context.Context, id uuid.UUID) (*types.Principal, error)

	// List retrieves all principals of a tenant, including soft-deleted
	// rows when includeDeleted is set
	List(ctx context.Context, tenantID uuid.UUID, includeDeleted bool) ([]*types.Principal, error)

	// SetRole changes a principal's role
	SetRole(ctx context.Context, id uuid.UUID, role types.Role) error

	// SetDeletedAt sets or clears the soft-delete timestamp
	SetDeletedAt(ctx context.Context, id uuid.UUID, at *time.Time) error
}
