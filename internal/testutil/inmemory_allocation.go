package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/creditrail/creditrail/internal/domain/allocation"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
)

// InMemoryAllocationStore is an in-memory implementation of
// allocation.Repository.
type InMemoryAllocationStore struct {
	mu          sync.RWMutex
	allocations map[string]*allocation.SeasonalAllocation
}

var _ allocation.Repository = (*InMemoryAllocationStore)(nil)

func NewInMemoryAllocationStore() *InMemoryAllocationStore {
	return &InMemoryAllocationStore{
		allocations: map[string]*allocation.SeasonalAllocation{},
	}
}

func (s *InMemoryAllocationStore) Create(ctx context.Context, a *allocation.SeasonalAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.allocations[a.ID]; exists {
		return ierr.NewError("allocation already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *a
	s.allocations[a.ID] = &copied
	return nil
}

func (s *InMemoryAllocationStore) GetByID(ctx context.Context, id string) (*allocation.SeasonalAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.allocations[id]
	if !ok || a.TenantID != types.GetTenantID(ctx) {
		return nil, ierr.NewError("allocation not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *a
	return &copied, nil
}

func (s *InMemoryAllocationStore) ListActiveByEntity(ctx context.Context, entityID string) ([]*allocation.SeasonalAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*allocation.SeasonalAllocation{}
	for _, a := range s.allocations {
		if a.TenantID != types.GetTenantID(ctx) || a.EntityID != entityID {
			continue
		}
		if !a.IsActive || a.IsExpired {
			continue
		}
		copied := *a
		result = append(result, &copied)
	}
	sortFIFO(result)
	return result, nil
}

func (s *InMemoryAllocationStore) ListExpiring(ctx context.Context, now time.Time) ([]*allocation.SeasonalAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*allocation.SeasonalAllocation{}
	for _, a := range s.allocations {
		if a.TenantID != types.GetTenantID(ctx) {
			continue
		}
		if !a.IsActive || a.IsExpired || a.ExpiresAt.After(now) {
			continue
		}
		copied := *a
		result = append(result, &copied)
	}
	sortFIFO(result)
	return result, nil
}

func (s *InMemoryAllocationStore) ListExpiringTenants(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	tenants := []string{}
	for _, a := range s.allocations {
		if !a.IsActive || a.IsExpired || a.ExpiresAt.After(now) {
			continue
		}
		if !seen[a.TenantID] {
			seen[a.TenantID] = true
			tenants = append(tenants, a.TenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *InMemoryAllocationStore) Update(ctx context.Context, a *allocation.SeasonalAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allocations[a.ID]; !ok {
		return ierr.NewError("allocation not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *a
	s.allocations[a.ID] = &copied
	return nil
}

func sortFIFO(allocations []*allocation.SeasonalAllocation) {
	sort.SliceStable(allocations, func(i, j int) bool {
		if allocations[i].ExpiresAt.Equal(allocations[j].ExpiresAt) {
			return allocations[i].CreatedAt.Before(allocations[j].CreatedAt)
		}
		return allocations[i].ExpiresAt.Before(allocations[j].ExpiresAt)
	})
}
