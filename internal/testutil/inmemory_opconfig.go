package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/creditrail/creditrail/internal/domain/opconfig"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
)

// InMemoryOpConfigStore is an in-memory implementation of opconfig.Repository.
type InMemoryOpConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*opconfig.Config
}

var _ opconfig.Repository = (*InMemoryOpConfigStore)(nil)

func NewInMemoryOpConfigStore() *InMemoryOpConfigStore {
	return &InMemoryOpConfigStore{
		configs: map[string]*opconfig.Config{},
	}
}

func (s *InMemoryOpConfigStore) Create(ctx context.Context, c *opconfig.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *c
	s.configs[c.ID] = &copied
	return nil
}

func (s *InMemoryOpConfigStore) Update(ctx context.Context, c *opconfig.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[c.ID]; !ok {
		return ierr.NewError("operation config not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *c
	s.configs[c.ID] = &copied
	return nil
}

func (s *InMemoryOpConfigStore) GetByID(ctx context.Context, id string) (*opconfig.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.configs[id]
	if !ok {
		return nil, ierr.NewError("operation config not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (s *InMemoryOpConfigStore) GetEntityScoped(ctx context.Context, operationCode types.OperationCode, entityID string) (*opconfig.Config, error) {
	return s.firstMatch(func(c *opconfig.Config) bool {
		return !c.IsGlobal &&
			c.TenantID == types.GetTenantID(ctx) &&
			c.EntityID != nil && *c.EntityID == entityID &&
			c.OperationCode == operationCode
	})
}

func (s *InMemoryOpConfigStore) GetTenantScoped(ctx context.Context, operationCode types.OperationCode) (*opconfig.Config, error) {
	return s.firstMatch(func(c *opconfig.Config) bool {
		return !c.IsGlobal &&
			c.TenantID == types.GetTenantID(ctx) &&
			c.EntityID == nil &&
			c.OperationCode == operationCode
	})
}

func (s *InMemoryOpConfigStore) GetGlobal(ctx context.Context, operationCode types.OperationCode) (*opconfig.Config, error) {
	return s.firstMatch(func(c *opconfig.Config) bool {
		return c.IsGlobal && c.OperationCode == operationCode
	})
}

// firstMatch returns the highest-priority active config accepted by the
// filter, most recent creation breaking ties.
func (s *InMemoryOpConfigStore) firstMatch(accept func(*opconfig.Config) bool) (*opconfig.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := []*opconfig.Config{}
	for _, c := range s.configs {
		if c.IsActive && c.Status == types.StatusPublished && accept(c) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, ierr.NewError("operation config not found").
			Mark(ierr.ErrNotFound)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	copied := *matches[0]
	return &copied, nil
}

func (s *InMemoryOpConfigStore) ListByTenant(ctx context.Context) ([]*opconfig.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*opconfig.Config{}
	for _, c := range s.configs {
		if c.TenantID == types.GetTenantID(ctx) && c.Status == types.StatusPublished {
			copied := *c
			result = append(result, &copied)
		}
	}
	return result, nil
}

func (s *InMemoryOpConfigStore) Archive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.configs[id]
	if !ok {
		return ierr.NewError("operation config not found").
			Mark(ierr.ErrNotFound)
	}
	c.IsActive = false
	c.Status = types.StatusArchived
	return nil
}
