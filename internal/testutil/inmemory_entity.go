package testutil

import (
	"context"
	"sync"

	"github.com/creditrail/creditrail/internal/domain/entity"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
)

// InMemoryEntityStore is an in-memory implementation of entity.Repository.
type InMemoryEntityStore struct {
	mu       sync.RWMutex
	entities []*entity.Entity
}

var _ entity.Repository = (*InMemoryEntityStore)(nil)

func NewInMemoryEntityStore() *InMemoryEntityStore {
	return &InMemoryEntityStore{}
}

// Add seeds an entity into the store.
func (s *InMemoryEntityStore) Add(e *entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *e
	s.entities = append(s.entities, &copied)
}

func (s *InMemoryEntityStore) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.TenantID == types.GetTenantID(ctx) && e.ID == id {
			copied := *e
			return &copied, nil
		}
	}
	return nil, ierr.NewError("entity not found").
		WithReportableDetails(map[string]any{
			"entity_id": id,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryEntityStore) ListByTenant(ctx context.Context) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*entity.Entity{}
	for _, e := range s.entities {
		if e.TenantID == types.GetTenantID(ctx) {
			copied := *e
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *InMemoryEntityStore) GetPrimary(ctx context.Context) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *entity.Entity
	for _, e := range s.entities {
		if e.TenantID != types.GetTenantID(ctx) || !e.IsRoot() || !e.IsActive {
			continue
		}
		if e.IsDefault {
			copied := *e
			return &copied, nil
		}
		if earliest == nil || e.CreatedAt.Before(earliest.CreatedAt) {
			earliest = e
		}
	}
	if earliest == nil {
		return nil, ierr.NewError("no primary entity for tenant").
			Mark(ierr.ErrNotFound)
	}
	copied := *earliest
	return &copied, nil
}
