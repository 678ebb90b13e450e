package postgres

import (
	"context"
	"database/sql"

	"github.com/creditrail/creditrail/internal/domain/appregistry"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/types"
)

type appRegistryRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewAppRegistryRepository(db postgres.IClient, logger *logger.Logger) appregistry.Repository {
	return &appRegistryRepository{db: db, logger: logger}
}

func (r *appRegistryRepository) GetApplicationByCode(ctx context.Context, appCode string) (*appregistry.Application, error) {
	query := `
		SELECT id, app_code, tenant_id, status, created_at, updated_at, created_by, updated_by
		FROM applications
		WHERE app_code = $1 AND status = $2`

	var a appregistry.Application
	err := r.db.GetQuerier(ctx).GetContext(ctx, &a, query, appCode, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("application not found").
				WithReportableDetails(map[string]any{
					"app_code": appCode,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load application").
			Mark(ierr.ErrDatabase)
	}
	return &a, nil
}

func (r *appRegistryRepository) ListApplications(ctx context.Context) ([]*appregistry.Application, error) {
	query := `
		SELECT id, app_code, tenant_id, status, created_at, updated_at, created_by, updated_by
		FROM applications
		WHERE status = $1
		ORDER BY app_code ASC`

	applications := []*appregistry.Application{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &applications, query, types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list applications").
			Mark(ierr.ErrDatabase)
	}
	return applications, nil
}

func (r *appRegistryRepository) GetModule(ctx context.Context, appCode, moduleCode string) (*appregistry.Module, error) {
	query := `
		SELECT m.id, m.app_id, m.module_code, m.permissions,
			m.tenant_id, m.status, m.created_at, m.updated_at, m.created_by, m.updated_by
		FROM application_modules m
		JOIN applications a ON a.id = m.app_id
		WHERE a.app_code = $1 AND m.module_code = $2 AND m.status = $3`

	var m appregistry.Module
	err := r.db.GetQuerier(ctx).GetContext(ctx, &m, query, appCode, moduleCode, types.StatusPublished)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("module not found").
				WithReportableDetails(map[string]any{
					"app_code":    appCode,
					"module_code": moduleCode,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to load application module").
			Mark(ierr.ErrDatabase)
	}
	return &m, nil
}

func (r *appRegistryRepository) ListModulesByApplication(ctx context.Context, appCode string) ([]*appregistry.Module, error) {
	query := `
		SELECT m.id, m.app_id, m.module_code, m.permissions,
			m.tenant_id, m.status, m.created_at, m.updated_at, m.created_by, m.updated_by
		FROM application_modules m
		JOIN applications a ON a.id = m.app_id
		WHERE a.app_code = $1 AND m.status = $2
		ORDER BY m.module_code ASC`

	modules := []*appregistry.Module{}
	err := r.db.GetQuerier(ctx).SelectContext(ctx, &modules, query, appCode, types.StatusPublished)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list application modules").
			Mark(ierr.ErrDatabase)
	}
	return modules, nil
}
