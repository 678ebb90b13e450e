package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/creditrail/creditrail/internal/domain/allocation"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

type allocationRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewAllocationRepository(db postgres.IClient, logger *logger.Logger) allocation.Repository {
	return &allocationRepository{db: db, logger: logger}
}

const allocationColumns = `
	id, entity_id, target_application, allocated_credits, used_credits, expires_at,
	is_active, is_expired, credit_type, campaign_id, campaign_name,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *allocationRepository) Create(ctx context.Context, a *allocation.SeasonalAllocation) error {
	query := `
		INSERT INTO seasonal_credit_allocations (` + allocationColumns + `)
		VALUES (:id, :entity_id, :target_application, :allocated_credits, :used_credits, :expires_at,
			:is_active, :is_expired, :credit_type, :campaign_id, :campaign_name,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, a); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create seasonal allocation").
			WithReportableDetails(map[string]any{
				"entity_id":   a.EntityID,
				"campaign_id": a.CampaignID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *allocationRepository) GetByID(ctx context.Context, id string) (*allocation.SeasonalAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM seasonal_credit_allocations
		WHERE tenant_id = $1 AND id = $2`

	var a allocation.SeasonalAllocation
	err := r.db.GetQuerier(ctx).GetContext(ctx, &a, query, types.GetTenantID(ctx), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("allocation not found").
				WithReportableDetails(map[string]any{
					"allocation_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load allocation").
			Mark(ierr.ErrDatabase)
	}
	return &a, nil
}

func (r *allocationRepository) ListActiveByEntity(ctx context.Context, entityID string) ([]*allocation.SeasonalAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM seasonal_credit_allocations
		WHERE tenant_id = $1 AND entity_id = $2
			AND is_active = true AND is_expired = false
		ORDER BY expires_at ASC, created_at ASC
		FOR UPDATE`

	allocations := []*allocation.SeasonalAllocation{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &allocations, query,
		types.GetTenantID(ctx), entityID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list active allocations").
			Mark(ierr.ErrDatabase)
	}
	return allocations, nil
}

func (r *allocationRepository) ListExpiring(ctx context.Context, now time.Time) ([]*allocation.SeasonalAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM seasonal_credit_allocations
		WHERE tenant_id = $1 AND is_active = true AND is_expired = false AND expires_at <= $2
		ORDER BY expires_at ASC`

	allocations := []*allocation.SeasonalAllocation{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &allocations, query,
		types.GetTenantID(ctx), now)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list expiring allocations").
			Mark(ierr.ErrDatabase)
	}
	return allocations, nil
}

func (r *allocationRepository) ListExpiringTenants(ctx context.Context, now time.Time) ([]string, error) {
	// Cross-tenant discovery read used only by the expiry sweep; the
	// per-tenant processing that follows is tenant scoped again.
	query := `
		SELECT DISTINCT tenant_id
		FROM seasonal_credit_allocations
		WHERE is_active = true AND is_expired = false AND expires_at <= $1`

	tenants := []string{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &tenants, query, now)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tenants with expiring allocations").
			Mark(ierr.ErrDatabase)
	}
	return tenants, nil
}

func (r *allocationRepository) Update(ctx context.Context, a *allocation.SeasonalAllocation) error {
	query := `
		UPDATE seasonal_credit_allocations
		SET used_credits = :used_credits, is_active = :is_active, is_expired = :is_expired,
			updated_at = :updated_at, updated_by = :updated_by
		WHERE tenant_id = :tenant_id AND id = :id`

	a.UpdatedAt = time.Now().UTC()
	a.UpdatedBy = types.GetUserID(ctx)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, a); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update allocation").
			WithReportableDetails(map[string]any{
				"allocation_id": a.ID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}
