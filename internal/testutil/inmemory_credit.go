package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/creditrail/creditrail/internal/domain/credit"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// InMemoryCreditStore is an in-memory implementation of credit.Repository.
type InMemoryCreditStore struct {
	mu           sync.RWMutex
	balances     map[string]*credit.Balance
	transactions []*credit.Transaction
}

var _ credit.Repository = (*InMemoryCreditStore)(nil)

func NewInMemoryCreditStore() *InMemoryCreditStore {
	return &InMemoryCreditStore{
		balances: map[string]*credit.Balance{},
	}
}

func balanceKey(tenantID, entityID string) string {
	return tenantID + "|" + entityID
}

func (s *InMemoryCreditStore) CreateBalance(ctx context.Context, b *credit.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := balanceKey(b.TenantID, b.EntityID)
	if _, exists := s.balances[key]; exists {
		return ierr.NewError("credit balance already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	copied := *b
	s.balances[key] = &copied
	return nil
}

func (s *InMemoryCreditStore) GetBalance(ctx context.Context, entityID string) (*credit.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[balanceKey(types.GetTenantID(ctx), entityID)]
	if !ok {
		return nil, ierr.NewError("credit balance not found").
			Mark(ierr.ErrNotFound)
	}
	copied := *b
	return &copied, nil
}

func (s *InMemoryCreditStore) GetBalanceForUpdate(ctx context.Context, entityID string) (*credit.Balance, error) {
	return s.GetBalance(ctx, entityID)
}

func (s *InMemoryCreditStore) UpdateBalance(ctx context.Context, entityID string, available decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[balanceKey(types.GetTenantID(ctx), entityID)]
	if !ok {
		return ierr.NewError("credit balance not found").
			Mark(ierr.ErrNotFound)
	}
	b.AvailableCredits = available
	b.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryCreditStore) CreateTransaction(ctx context.Context, t *credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirrors the partial unique index: only non-empty keys collide, keyless
	// rows always append.
	if t.IdempotencyKey != "" {
		for _, existing := range s.transactions {
			if existing.TenantID == t.TenantID && existing.IdempotencyKey == t.IdempotencyKey {
				return ierr.NewError("ledger row with this idempotency key already exists").
					WithReportableDetails(map[string]any{
						"idempotency_key": t.IdempotencyKey,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
		}
	}

	copied := *t
	s.transactions = append(s.transactions, &copied)
	return nil
}

func (s *InMemoryCreditStore) GetTransactionByID(ctx context.Context, id string) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.TenantID == types.GetTenantID(ctx) && t.ID == id {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ierr.NewError("ledger transaction not found").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryCreditStore) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.transactions {
		if t.TenantID == types.GetTenantID(ctx) && t.IdempotencyKey == key {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ierr.NewError("ledger transaction not found").
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryCreditStore) ListTransactions(ctx context.Context, entityID string, limit int) ([]*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*credit.Transaction{}
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.TenantID != types.GetTenantID(ctx) || t.EntityID != entityID {
			continue
		}
		copied := *t
		result = append(result, &copied)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *InMemoryCreditStore) SumConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range s.transactions {
		if s.matchesConsumption(ctx, t, entityID, operationCode, since) {
			sum = sum.Add(t.Amount.Neg())
		}
	}
	return sum, nil
}

func (s *InMemoryCreditStore) CountConsumptionSince(ctx context.Context, entityID string, operationCode string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.transactions {
		if s.matchesConsumption(ctx, t, entityID, operationCode, since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryCreditStore) matchesConsumption(ctx context.Context, t *credit.Transaction, entityID, operationCode string, since time.Time) bool {
	return t.TenantID == types.GetTenantID(ctx) &&
		t.EntityID == entityID &&
		t.Type == types.TransactionTypeConsumption &&
		t.OperationCode == operationCode &&
		!t.CreatedAt.Before(since)
}

// TransactionCount reports how many ledger rows the store holds.
func (s *InMemoryCreditStore) TransactionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transactions)
}
