package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/creditrail/creditrail/internal/domain/opconfig"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

type opConfigRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewOperationConfigRepository(db postgres.IClient, logger *logger.Logger) opconfig.Repository {
	return &opConfigRepository{db: db, logger: logger}
}

const configColumns = `
	id, operation_code, entity_id, is_global, credit_cost, unit, unit_multiplier,
	free_allowance, free_allowance_period, volume_tiers, allow_overage,
	overage_limit, overage_cost, is_active, priority,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *opConfigRepository) Create(ctx context.Context, c *opconfig.Config) error {
	query := `
		INSERT INTO credit_configurations (` + configColumns + `)
		VALUES (:id, :operation_code, :entity_id, :is_global, :credit_cost, :unit, :unit_multiplier,
			:free_allowance, :free_allowance_period, :volume_tiers, :allow_overage,
			:overage_limit, :overage_cost, :is_active, :priority,
			:tenant_id, :status, :created_at, :updated_at, :created_by, :updated_by)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, c); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create operation configuration").
			WithReportableDetails(map[string]any{
				"operation_code": c.OperationCode,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *opConfigRepository) Update(ctx context.Context, c *opconfig.Config) error {
	query := `
		UPDATE credit_configurations
		SET credit_cost = :credit_cost, unit = :unit, unit_multiplier = :unit_multiplier,
			free_allowance = :free_allowance, free_allowance_period = :free_allowance_period,
			volume_tiers = :volume_tiers, allow_overage = :allow_overage,
			overage_limit = :overage_limit, overage_cost = :overage_cost,
			is_active = :is_active, priority = :priority,
			updated_at = :updated_at, updated_by = :updated_by
		WHERE id = :id`

	c.UpdatedAt = time.Now().UTC()
	c.UpdatedBy = types.GetUserID(ctx)

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, c); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update operation configuration").
			WithReportableDetails(map[string]any{
				"config_id": c.ID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *opConfigRepository) GetByID(ctx context.Context, id string) (*opconfig.Config, error) {
	query := `
		SELECT ` + configColumns + `
		FROM credit_configurations
		WHERE id = $1 AND status = $2`

	var c opconfig.Config
	err := r.db.GetQuerier(ctx).GetContext(ctx, &c, query, id, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.notFound("config_id", id)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load operation configuration").
			Mark(ierr.ErrDatabase)
	}
	return &c, nil
}

func (r *opConfigRepository) GetEntityScoped(ctx context.Context, operationCode types.OperationCode, entityID string) (*opconfig.Config, error) {
	query := `
		SELECT ` + configColumns + `
		FROM credit_configurations
		WHERE tenant_id = $1 AND entity_id = $2 AND operation_code = $3
			AND is_global = false AND is_active = true AND status = $4
		ORDER BY priority DESC
		LIMIT 1`

	var c opconfig.Config
	err := r.db.GetQuerier(ctx).GetContext(ctx, &c, query,
		types.GetTenantID(ctx), entityID, operationCode, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.notFound("operation_code", operationCode.String())
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load entity-scoped configuration").
			Mark(ierr.ErrDatabase)
	}
	return &c, nil
}

func (r *opConfigRepository) GetTenantScoped(ctx context.Context, operationCode types.OperationCode) (*opconfig.Config, error) {
	query := `
		SELECT ` + configColumns + `
		FROM credit_configurations
		WHERE tenant_id = $1 AND entity_id IS NULL AND operation_code = $2
			AND is_global = false AND is_active = true AND status = $3
		ORDER BY priority DESC
		LIMIT 1`

	var c opconfig.Config
	err := r.db.GetQuerier(ctx).GetContext(ctx, &c, query,
		types.GetTenantID(ctx), operationCode, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.notFound("operation_code", operationCode.String())
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load tenant-scoped configuration").
			Mark(ierr.ErrDatabase)
	}
	return &c, nil
}

func (r *opConfigRepository) GetGlobal(ctx context.Context, operationCode types.OperationCode) (*opconfig.Config, error) {
	query := `
		SELECT ` + configColumns + `
		FROM credit_configurations
		WHERE is_global = true AND operation_code = $1 AND is_active = true AND status = $2
		ORDER BY priority DESC
		LIMIT 1`

	var c opconfig.Config
	err := r.db.GetQuerier(ctx).GetContext(ctx, &c, query, operationCode, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.notFound("operation_code", operationCode.String())
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load global configuration").
			Mark(ierr.ErrDatabase)
	}
	return &c, nil
}

func (r *opConfigRepository) ListByTenant(ctx context.Context) ([]*opconfig.Config, error) {
	query := `
		SELECT ` + configColumns + `
		FROM credit_configurations
		WHERE tenant_id = $1 AND is_global = false AND status = $2
		ORDER BY operation_code ASC`

	configs := []*opconfig.Config{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &configs, query,
		types.GetTenantID(ctx), types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list operation configurations").
			Mark(ierr.ErrDatabase)
	}
	return configs, nil
}

func (r *opConfigRepository) Archive(ctx context.Context, id string) error {
	query := `
		UPDATE credit_configurations
		SET status = $1, is_active = false, updated_at = $2, updated_by = $3
		WHERE id = $4`

	_, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		types.StatusArchived, time.Now().UTC(), types.GetUserID(ctx), id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to archive operation configuration").
			WithReportableDetails(map[string]any{
				"config_id": id,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *opConfigRepository) notFound(key, value string) error {
	return ierr.NewError("operation configuration not found").
		WithReportableDetails(map[string]any{
			key: value,
		}).
		Mark(ierr.ErrNotFound)
}
