package service

import (
	"context"
	"testing"

	"github.com/creditrail/creditrail/internal/domain/credit"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type LedgerServiceSuite struct {
	suite.Suite
	ctx        context.Context
	ledger     LedgerService
	creditRepo *testutil.InMemoryCreditStore
}

func TestLedgerService(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.creditRepo = testutil.NewInMemoryCreditStore()

	s.ledger = NewLedgerService(ServiceParams{
		Logger:     testutil.GetLogger(),
		Config:     testutil.GetConfig(),
		DB:         testutil.NewInMemoryDB(),
		CreditRepo: s.creditRepo,
	})
}

func (s *LedgerServiceSuite) credit(entityID string, amount int64) *Receipt {
	receipt, err := s.ledger.Credit(s.ctx, &LedgerEntryRequest{
		EntityID: entityID,
		Amount:   decimal.NewFromInt(amount),
		Type:     types.TransactionTypePurchase,
	})
	s.NoError(err)
	return receipt
}

func (s *LedgerServiceSuite) TestCreditCreatesBalanceLazily() {
	receipt := s.credit("ent-1", 100)

	s.Equal(decimal.Zero.String(), receipt.PreviousBalance.String())
	s.Equal("100", receipt.NewBalance.String())

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("100", balance.AvailableCredits.String())
}

func (s *LedgerServiceSuite) TestDebitReducesBalance() {
	s.credit("ent-1", 100)

	receipt, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
		EntityID: "ent-1",
		Amount:   decimal.NewFromInt(40),
		Type:     types.TransactionTypeConsumption,
	})
	s.NoError(err)
	s.Equal("100", receipt.PreviousBalance.String())
	s.Equal("60", receipt.NewBalance.String())
}

func (s *LedgerServiceSuite) TestDebitInsufficientCreditsWritesNothing() {
	s.credit("ent-1", 10)
	before := s.creditRepo.TransactionCount()

	_, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
		EntityID: "ent-1",
		Amount:   decimal.NewFromInt(50),
		Type:     types.TransactionTypeConsumption,
	})
	s.Error(err)
	s.True(ierr.IsInsufficientCredits(err))

	// The failed debit left no ledger row and the balance untouched.
	s.Equal(before, s.creditRepo.TransactionCount())
	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("10", balance.AvailableCredits.String())
}

func (s *LedgerServiceSuite) TestDebitClampedToAvailable() {
	s.credit("ent-1", 30)

	receipt, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
		EntityID:         "ent-1",
		Amount:           decimal.NewFromInt(50),
		Type:             types.TransactionTypeExpiry,
		ClampToAvailable: true,
	})
	s.NoError(err)
	s.Equal("0", receipt.NewBalance.String())
	s.Equal("-30", receipt.Amount.String())
}

func (s *LedgerServiceSuite) TestNegativeAmountRejected() {
	_, err := s.ledger.Credit(s.ctx, &LedgerEntryRequest{
		EntityID: "ent-1",
		Amount:   decimal.NewFromInt(-5),
		Type:     types.TransactionTypePurchase,
	})
	s.Error(err)
	s.True(ierr.IsInvalidAmount(err))
}

func (s *LedgerServiceSuite) TestLedgerChainStaysConsistent() {
	s.credit("ent-1", 100)
	for _, amount := range []int64{10, 20, 5} {
		_, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
			EntityID: "ent-1",
			Amount:   decimal.NewFromInt(amount),
			Type:     types.TransactionTypeConsumption,
		})
		s.NoError(err)
	}

	// Most recent first; each row balances and chains to its predecessor.
	rows, err := s.ledger.ListTransactions(s.ctx, "ent-1", 10)
	s.NoError(err)
	s.Len(rows, 4)
	for i, row := range rows {
		s.True(row.NewBalance.Sub(row.PreviousBalance).Equal(row.Amount))
		if i+1 < len(rows) {
			s.True(row.PreviousBalance.Equal(rows[i+1].NewBalance))
		}
	}

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("65", balance.AvailableCredits.String())
}

func (s *LedgerServiceSuite) TestIdempotentReplayReturnsOriginalReceipt() {
	first, err := s.ledger.Credit(s.ctx, &LedgerEntryRequest{
		EntityID:       "ent-1",
		Amount:         decimal.NewFromInt(100),
		Type:           types.TransactionTypePurchase,
		IdempotencyKey: "purchase:abc",
	})
	s.NoError(err)

	second, err := s.ledger.Credit(s.ctx, &LedgerEntryRequest{
		EntityID:       "ent-1",
		Amount:         decimal.NewFromInt(100),
		Type:           types.TransactionTypePurchase,
		IdempotencyKey: "purchase:abc",
	})
	s.NoError(err)
	s.Equal(first.TransactionID, second.TransactionID)

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("100", balance.AvailableCredits.String())
}

func (s *LedgerServiceSuite) TestKeylessEntriesDoNotConflict() {
	s.credit("ent-1", 100)

	// Consecutive rows without an idempotency key must all append; only
	// non-empty keys are unique per tenant.
	for i := 0; i < 2; i++ {
		_, err := s.ledger.Debit(s.ctx, &LedgerEntryRequest{
			EntityID: "ent-1",
			Amount:   decimal.NewFromInt(10),
			Type:     types.TransactionTypeConsumption,
		})
		s.NoError(err)
	}

	// The incoming half of a transfer is always keyless.
	_, err := s.ledger.Transfer(s.ctx, &TransferRequest{
		FromEntityID: "ent-1",
		ToEntityID:   "ent-2",
		Amount:       decimal.NewFromInt(5),
	})
	s.NoError(err)
	s.Equal(5, s.creditRepo.TransactionCount())
}

func (s *LedgerServiceSuite) TestDuplicateIdempotencyKeyConflictsInStore() {
	txn := &credit.Transaction{
		ID:             "txn-1",
		EntityID:       "ent-1",
		Type:           types.TransactionTypePurchase,
		Amount:         decimal.NewFromInt(10),
		NewBalance:     decimal.NewFromInt(10),
		IdempotencyKey: "purchase:abc",
		BaseModel:      types.GetDefaultBaseModel(s.ctx),
	}
	s.NoError(s.creditRepo.CreateTransaction(s.ctx, txn))

	dup := *txn
	dup.ID = "txn-2"
	err := s.creditRepo.CreateTransaction(s.ctx, &dup)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *LedgerServiceSuite) TestTransferMovesCreditsAtomically() {
	s.credit("ent-a", 100)

	receipt, err := s.ledger.Transfer(s.ctx, &TransferRequest{
		FromEntityID: "ent-a",
		ToEntityID:   "ent-b",
		Amount:       decimal.NewFromInt(40),
	})
	s.NoError(err)
	s.Equal("60", receipt.Out.NewBalance.String())
	s.Equal("40", receipt.In.NewBalance.String())
	s.Equal("-40", receipt.Out.Amount.String())
	s.Equal("40", receipt.In.Amount.String())
}

func (s *LedgerServiceSuite) TestTransferInsufficientCredits() {
	s.credit("ent-a", 10)

	_, err := s.ledger.Transfer(s.ctx, &TransferRequest{
		FromEntityID: "ent-a",
		ToEntityID:   "ent-b",
		Amount:       decimal.NewFromInt(40),
	})
	s.Error(err)
	s.True(ierr.IsInsufficientCredits(err))
}

func (s *LedgerServiceSuite) TestTransferToSelfRejected() {
	_, err := s.ledger.Transfer(s.ctx, &TransferRequest{
		FromEntityID: "ent-a",
		ToEntityID:   "ent-a",
		Amount:       decimal.NewFromInt(10),
	})
	s.Error(err)
}

func (s *LedgerServiceSuite) TestMissingTenantContextRejected() {
	_, err := s.ledger.Credit(context.Background(), &LedgerEntryRequest{
		EntityID: "ent-1",
		Amount:   decimal.NewFromInt(10),
		Type:     types.TransactionTypePurchase,
	})
	s.Error(err)
}
