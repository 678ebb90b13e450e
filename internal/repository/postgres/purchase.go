package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/creditrail/creditrail/internal/domain/purchase"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

type purchaseRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewPurchaseRepository(db postgres.IClient, logger *logger.Logger) purchase.Repository {
	return &purchaseRepository{db: db, logger: logger}
}

const purchaseColumns = `
	id, entity_id, credit_amount, unit_price, total_amount, payment_method,
	purchase_status, external_session_id, requested_by, paid_at, credited_at,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *purchaseRepository) Create(ctx context.Context, p *purchase.Purchase) error {
	query := `
		INSERT INTO credit_purchases (` + purchaseColumns + `)
		VALUES (:id, :entity_id, :credit_amount, :unit_price, :total_amount, :payment_method,
			:purchase_status, :external_session_id, :requested_by, :paid_at, :credited_at,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create purchase").
			WithReportableDetails(map[string]any{
				"entity_id": p.EntityID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *purchaseRepository) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM credit_purchases
		WHERE tenant_id = $1 AND id = $2`

	var p purchase.Purchase
	err := r.db.GetQuerier(ctx).GetContext(ctx, &p, query, types.GetTenantID(ctx), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("purchase not found").
				WithReportableDetails(map[string]any{
					"purchase_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load purchase").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *purchaseRepository) GetByExternalSessionID(ctx context.Context, sessionID string) (*purchase.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM credit_purchases
		WHERE tenant_id = $1 AND external_session_id = $2
		ORDER BY created_at ASC
		LIMIT 1`

	var p purchase.Purchase
	err := r.db.GetQuerier(ctx).GetContext(ctx, &p, query, types.GetTenantID(ctx), sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("purchase not found for session").
				WithReportableDetails(map[string]any{
					"external_session_id": sessionID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load purchase by session").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *purchaseRepository) Update(ctx context.Context, p *purchase.Purchase) error {
	query := `
		UPDATE credit_purchases
		SET purchase_status = :purchase_status, external_session_id = :external_session_id,
			paid_at = :paid_at, credited_at = :credited_at,
			updated_at = :updated_at, updated_by = :updated_by
		WHERE tenant_id = :tenant_id AND id = :id`

	p.UpdatedAt = time.Now().UTC()
	p.UpdatedBy = types.GetUserID(ctx)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update purchase").
			WithReportableDetails(map[string]any{
				"purchase_id": p.ID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *purchaseRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*purchase.Purchase, error) {
	query := `
		SELECT ` + purchaseColumns + `
		FROM credit_purchases
		WHERE tenant_id = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	purchases := []*purchase.Purchase{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &purchases, query,
		types.GetTenantID(ctx), entityID, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list purchases").
			Mark(ierr.ErrDatabase)
	}
	return purchases, nil
}
