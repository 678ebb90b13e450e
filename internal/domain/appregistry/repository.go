package appregistry

import "context"

// Repository defines the interface for application and module registry reads.
type Repository interface {
	GetApplicationByCode(ctx context.Context, appCode string) (*Application, error)
	ListApplications(ctx context.Context) ([]*Application, error)
	GetModule(ctx context.Context, appCode, moduleCode string) (*Module, error)
	ListModulesByApplication(ctx context.Context, appCode string) ([]*Module, error)
}
