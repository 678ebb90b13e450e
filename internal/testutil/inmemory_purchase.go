package testutil

import (
	"context"
	"sync"

	"github.com/creditrail/creditrail/internal/domain/purchase"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
)

// InMemoryPurchaseStore is an in-memory implementation of purchase.Repository.
type InMemoryPurchaseStore struct {
	mu        sync.RWMutex
	purchases map[string]*purchase.Purchase
}

var _ purchase.Repository = (*InMemoryPurchaseStore)(nil)

func NewInMemoryPurchaseStore() *InMemoryPurchaseStore {
	return &InMemoryPurchaseStore{
		purchases: map[string]*purchase.Purchase{},
	}
}

func (s *InMemoryPurchaseStore) Create(ctx context.Context, p *purchase.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ID]; exists {
		return ierr.NewError("purchase already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *p
	s.purchases[p.ID] = &copied
	return nil
}

func (s *InMemoryPurchaseStore) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchases[id]
	if !ok || p.TenantID != types.GetTenantID(ctx) {
		return nil, ierr.NewError("purchase not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *p
	return &copied, nil
}

func (s *InMemoryPurchaseStore) GetByExternalSessionID(ctx context.Context, sessionID string) (*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.purchases {
		if p.TenantID == types.GetTenantID(ctx) && p.ExternalSessionID == sessionID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ierr.NewError("purchase not found").
		WithReportableDetails(map[string]any{
			"external_session_id": sessionID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPurchaseStore) Update(ctx context.Context, p *purchase.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[p.ID]; !ok {
		return ierr.NewError("purchase not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *p
	s.purchases[p.ID] = &copied
	return nil
}

func (s *InMemoryPurchaseStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*purchase.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*purchase.Purchase{}
	for _, p := range s.purchases {
		if p.TenantID != types.GetTenantID(ctx) || p.EntityID != entityID {
			continue
		}
		copied := *p
		result = append(result, &copied)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
