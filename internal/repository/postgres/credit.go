package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/creditrail/creditrail/internal/domain/credit"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

type creditRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewCreditRepository(db postgres.IClient, logger *logger.Logger) credit.Repository {
	return &creditRepository{db: db, logger: logger}
}

const balanceColumns = `
	id, entity_id, available_credits, reserved_credits, is_active, last_updated_at,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *creditRepository) CreateBalance(ctx context.Context, b *credit.Balance) error {
	query := `
		INSERT INTO credit_balances (` + balanceColumns + `)
		VALUES (:id, :entity_id, :available_credits, :reserved_credits, :is_active, :last_updated_at,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, b); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create credit balance").
			WithReportableDetails(map[string]any{
				"entity_id": b.EntityID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *creditRepository) GetBalance(ctx context.Context, entityID string) (*credit.Balance, error) {
	return r.getBalance(ctx, entityID, false)
}

func (r *creditRepository) GetBalanceForUpdate(ctx context.Context, entityID string) (*credit.Balance, error) {
	return r.getBalance(ctx, entityID, true)
}

func (r *creditRepository) getBalance(ctx context.Context, entityID string, forUpdate bool) (*credit.Balance, error) {
	query := `
		SELECT ` + balanceColumns + `
		FROM credit_balances
		WHERE tenant_id = $1 AND entity_id = $2 AND status = $3`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var b credit.Balance
	err := r.db.GetQuerier(ctx).GetContext(ctx, &b, query,
		types.GetTenantID(ctx), entityID, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("credit balance not found").
				WithHint("No balance row exists yet for this entity").
				WithReportableDetails(map[string]any{
					"entity_id": entityID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load credit balance").
			Mark(ierr.ErrDatabase)
	}
	return &b, nil
}

func (r *creditRepository) UpdateBalance(ctx context.Context, entityID string, available decimal.Decimal) error {
	query := `
		UPDATE credit_balances
		SET available_credits = $1, last_updated_at = $2, updated_at = $2, updated_by = $3
		WHERE tenant_id = $4 AND entity_id = $5 AND status = $6`

	now := time.Now().UTC()
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		available, now, types.GetUserID(ctx),
		types.GetTenantID(ctx), entityID, types.StatusPublished)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update credit balance").
			WithReportableDetails(map[string]any{
				"entity_id": entityID,
			}).
			Mark(ierr.ErrDatabase)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ierr.NewError("credit balance not found").
			WithHint("No balance row exists yet for this entity").
			WithReportableDetails(map[string]any{
				"entity_id": entityID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

const transactionColumns = `
	id, entity_id, transaction_type, amount, previous_balance, new_balance,
	operation_code, initiated_by, idempotency_key,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

// Keyless rows store NULL so the partial unique index never sees them; reads
// normalize the key back to the empty string.
const transactionSelectColumns = `
	id, entity_id, transaction_type, amount, previous_balance, new_balance,
	operation_code, initiated_by, COALESCE(idempotency_key, '') AS idempotency_key,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *creditRepository) CreateTransaction(ctx context.Context, t *credit.Transaction) error {
	query := `
		INSERT INTO credit_transactions (` + transactionColumns + `)
		VALUES (:id, :entity_id, :transaction_type, :amount, :previous_balance, :new_balance,
			:operation_code, :initiated_by, NULLIF(:idempotency_key, ''),
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, t); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append ledger row").
			WithReportableDetails(map[string]any{
				"entity_id":        t.EntityID,
				"transaction_type": t.Type,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *creditRepository) GetTransactionByID(ctx context.Context, id string) (*credit.Transaction, error) {
	query := `
		SELECT ` + transactionSelectColumns + `
		FROM credit_transactions
		WHERE tenant_id = $1 AND id = $2`

	var t credit.Transaction
	err := r.db.GetQuerier(ctx).GetContext(ctx, &t, query, types.GetTenantID(ctx), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("ledger transaction not found").
				WithReportableDetails(map[string]any{
					"transaction_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load ledger transaction").
			Mark(ierr.ErrDatabase)
	}
	return &t, nil
}

func (r *creditRepository) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*credit.Transaction, error) {
	query := `
		SELECT ` + transactionSelectColumns + `
		FROM credit_transactions
		WHERE tenant_id = $1 AND idempotency_key = $2
		ORDER BY created_at ASC
		LIMIT 1`

	var t credit.Transaction
	err := r.db.GetQuerier(ctx).GetContext(ctx, &t, query, types.GetTenantID(ctx), key)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("ledger transaction not found").
				WithReportableDetails(map[string]any{
					"idempotency_key": key,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to look up ledger transaction by idempotency key").
			Mark(ierr.ErrDatabase)
	}
	return &t, nil
}

func (r *creditRepository) ListTransactions(ctx context.Context, entityID string, limit int) ([]*credit.Transaction, error) {
	query := `
		SELECT ` + transactionSelectColumns + `
		FROM credit_transactions
		WHERE tenant_id = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	transactions := []*credit.Transaction{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &transactions, query,
		types.GetTenantID(ctx), entityID, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list ledger transactions").
			Mark(ierr.ErrDatabase)
	}
	return transactions, nil
}

func (r *creditRepository) SumConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(-amount), 0)
		FROM credit_transactions
		WHERE tenant_id = $1 AND entity_id = $2 AND transaction_type = $3
			AND operation_code = $4 AND created_at >= $5`

	var sum decimal.Decimal
	err := r.db.GetQuerier(ctx).GetContext(ctx, &sum, query,
		types.GetTenantID(ctx), entityID, types.TransactionTypeConsumption, operationCode, since)
	if err != nil {
		return decimal.Zero, ierr.WithError(err).
			WithHint("Failed to sum consumption").
			Mark(ierr.ErrDatabase)
	}
	return sum, nil
}

func (r *creditRepository) CountConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM credit_transactions
		WHERE tenant_id = $1 AND entity_id = $2 AND transaction_type = $3
			AND operation_code = $4 AND created_at >= $5`

	var count int
	err := r.db.GetQuerier(ctx).GetContext(ctx, &count, query,
		types.GetTenantID(ctx), entityID, types.TransactionTypeConsumption, operationCode, since)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count consumption").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}
