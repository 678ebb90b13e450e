package opconfig

import (
	"context"

	"github.com/creditrail/creditrail/internal/types"
)

// Repository defines the interface for operation configuration persistence.
// The lookup calls mirror the resolver's inheritance chain; each returns a
// not-found error when no active row matches.
type Repository interface {
	Create(ctx context.Context, c *Config) error
	Update(ctx context.Context, c *Config) error
	GetByID(ctx context.Context, id string) (*Config, error)

	// Inheritance chain lookups, first match wins.
	GetEntityScoped(ctx context.Context, operationCode types.OperationCode, entityID string) (*Config, error)
	GetTenantScoped(ctx context.Context, operationCode types.OperationCode) (*Config, error)
	GetGlobal(ctx context.Context, operationCode types.OperationCode) (*Config, error)

	ListByTenant(ctx context.Context) ([]*Config, error)
	Archive(ctx context.Context, id string) error
}
