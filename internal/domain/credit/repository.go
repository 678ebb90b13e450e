package credit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for balance and ledger persistence.
// Mutating calls are expected to run inside a storage unit; the ledger engine
// serializes concurrent mutations of one entity by locking its balance row.
type Repository interface {
	// Balance operations
	CreateBalance(ctx context.Context, b *Balance) error
	GetBalance(ctx context.Context, entityID string) (*Balance, error)
	// GetBalanceForUpdate locks the balance row for the remainder of the
	// current unit (SELECT ... FOR UPDATE).
	GetBalanceForUpdate(ctx context.Context, entityID string) (*Balance, error)
	UpdateBalance(ctx context.Context, entityID string, available decimal.Decimal) error

	// Ledger operations (append only)
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	ListTransactions(ctx context.Context, entityID string, limit int) ([]*Transaction, error)

	// Usage reads for pricing
	SumConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (decimal.Decimal, error)
	CountConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (int, error)
}
