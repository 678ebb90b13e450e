package purchase

import "context"

// Repository defines the interface for purchase persistence.
type Repository interface {
	Create(ctx context.Context, p *Purchase) error
	GetByID(ctx context.Context, id string) (*Purchase, error)
	// GetByExternalSessionID resolves the purchase tied to a gateway
	// checkout session. Used for idempotent webhook completion.
	GetByExternalSessionID(ctx context.Context, sessionID string) (*Purchase, error)
	Update(ctx context.Context, p *Purchase) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*Purchase, error)
}
