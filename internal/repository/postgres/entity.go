package postgres

import (
	"context"
	"database/sql"

	"github.com/creditrail/creditrail/internal/domain/entity"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

type entityRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewEntityRepository(db postgres.IClient, logger *logger.Logger) entity.Repository {
	return &entityRepository{db: db, logger: logger}
}

const entityColumns = `
	id, entity_type, parent_entity_id, entity_name, is_active, is_default,
	tenant_id, status, created_at, updated_at, created_by, updated_by`

func (r *entityRepository) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1 AND id = $2 AND status = $3`

	var e entity.Entity
	err := r.db.GetQuerier(ctx).GetContext(ctx, &e, query,
		types.GetTenantID(ctx), id, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("entity not found").
				WithReportableDetails(map[string]any{
					"entity_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load entity").
			Mark(ierr.ErrDatabase)
	}
	return &e, nil
}

func (r *entityRepository) ListByTenant(ctx context.Context) ([]*entity.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at ASC`

	entities := []*entity.Entity{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &entities, query,
		types.GetTenantID(ctx), types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list entities").
			Mark(ierr.ErrDatabase)
	}
	return entities, nil
}

// GetPrimary resolves the tenant's primary root: the default-flagged root if
// one exists, otherwise the earliest created root.
func (r *entityRepository) GetPrimary(ctx context.Context) (*entity.Entity, error) {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE tenant_id = $1 AND parent_entity_id IS NULL AND is_active = true AND status = $2
		ORDER BY is_default DESC, created_at ASC
		LIMIT 1`

	var e entity.Entity
	err := r.db.GetQuerier(ctx).GetContext(ctx, &e, query,
		types.GetTenantID(ctx), types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no primary entity for tenant").
				WithHint("The tenant has no active root entity").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to resolve primary entity").
			Mark(ierr.ErrDatabase)
	}
	return &e, nil
}
