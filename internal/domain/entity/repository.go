package entity

import "context"

// Repository defines the interface for entity reads. Entities are created by
// onboarding, outside this core; the core only resolves them.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Entity, error)
	ListByTenant(ctx context.Context) ([]*Entity, error)
	// GetPrimary resolves the tenant's primary root entity: the default
	// root if one is flagged, otherwise the earliest created root.
	GetPrimary(ctx context.Context) (*Entity, error)
}
