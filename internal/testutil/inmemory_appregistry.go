package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/creditrail/creditrail/internal/domain/appregistry"
	ierr "github.com/creditrail/creditrail/internal/errors"
)

// InMemoryAppRegistryStore is an in-memory implementation of
// appregistry.Repository.
type InMemoryAppRegistryStore struct {
	mu           sync.RWMutex
	applications map[string]*appregistry.Application
	modules      []*appregistry.Module
}

var _ appregistry.Repository = (*InMemoryAppRegistryStore)(nil)

func NewInMemoryAppRegistryStore() *InMemoryAppRegistryStore {
	return &InMemoryAppRegistryStore{
		applications: map[string]*appregistry.Application{},
	}
}

// AddApplication seeds an application into the registry.
func (s *InMemoryAppRegistryStore) AddApplication(app *appregistry.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *app
	s.applications[app.AppCode] = &copied
}

// AddModule seeds a module into the registry.
func (s *InMemoryAppRegistryStore) AddModule(m *appregistry.Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *m
	s.modules = append(s.modules, &copied)
}

func (s *InMemoryAppRegistryStore) GetApplicationByCode(ctx context.Context, appCode string) (*appregistry.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[appCode]
	if !ok {
		return nil, ierr.NewError("application not registered").
			WithReportableDetails(map[string]any{
				"app_code": appCode,
			}).
			Mark(ierr.ErrNotFound)
	}
	copied := *app
	return &copied, nil
}

func (s *InMemoryAppRegistryStore) ListApplications(ctx context.Context) ([]*appregistry.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*appregistry.Application{}
	for _, app := range s.applications {
		copied := *app
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AppCode < result[j].AppCode
	})
	return result, nil
}

func (s *InMemoryAppRegistryStore) GetModule(ctx context.Context, appCode, moduleCode string) (*appregistry.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[appCode]
	if !ok {
		return nil, ierr.NewError("application not registered").
			Mark(ierr.ErrNotFound)
	}
	for _, m := range s.modules {
		if m.AppID == app.ID && m.ModuleCode == moduleCode {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ierr.NewError("module not registered").
		WithReportableDetails(map[string]any{
			"app_code":    appCode,
			"module_code": moduleCode,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryAppRegistryStore) ListModulesByApplication(ctx context.Context, appCode string) ([]*appregistry.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[appCode]
	if !ok {
		return nil, ierr.NewError("application not registered").
			Mark(ierr.ErrNotFound)
	}
	result := []*appregistry.Module{}
	for _, m := range s.modules {
		if m.AppID == app.ID {
			copied := *m
			result = append(result, &copied)
		}
	}
	return result, nil
}
