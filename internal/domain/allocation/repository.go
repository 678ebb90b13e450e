package allocation

import (
	"context"
	"time"
)

// Repository defines the interface for seasonal allocation persistence.
type Repository interface {
	Create(ctx context.Context, a *SeasonalAllocation) error
	GetByID(ctx context.Context, id string) (*SeasonalAllocation, error)
	// ListActiveByEntity returns active, non-expired allocations for the
	// entity ordered FIFO: earliest expiry first, ties broken by earliest
	// creation.
	ListActiveByEntity(ctx context.Context, entityID string) ([]*SeasonalAllocation, error)
	// ListExpiring returns active, not-yet-expired allocations whose
	// expiry instant has passed, across all entities of the tenant.
	ListExpiring(ctx context.Context, now time.Time) ([]*SeasonalAllocation, error)
	// ListExpiringTenants returns the tenants that currently hold overdue
	// allocations. The expiry sweep uses it to fan out per tenant.
	ListExpiringTenants(ctx context.Context, now time.Time) ([]string, error)
	Update(ctx context.Context, a *SeasonalAllocation) error
}
