package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/service"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ExpirySchedulerSuite struct {
	suite.Suite
	ctx            context.Context
	scheduler      *ExpiryScheduler
	ledger         service.LedgerService
	allocations    service.AllocationService
	allocationRepo *testutil.InMemoryAllocationStore
	publisher      *testutil.InMemoryPublisher
}

func TestExpiryScheduler(t *testing.T) {
	suite.Run(t, new(ExpirySchedulerSuite))
}

func (s *ExpirySchedulerSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.allocationRepo = testutil.NewInMemoryAllocationStore()
	s.publisher = testutil.NewInMemoryPublisher()

	params := service.ServiceParams{
		Logger:         testutil.GetLogger(),
		Config:         testutil.GetConfig(),
		DB:             testutil.NewInMemoryDB(),
		EventPublisher: s.publisher,
		CreditRepo:     testutil.NewInMemoryCreditStore(),
		AllocationRepo: s.allocationRepo,
	}
	s.ledger = service.NewLedgerService(params)
	s.allocations = service.NewAllocationService(params, s.ledger)

	s.scheduler = NewExpiryScheduler(
		params.Config,
		params.Logger,
		params.DB,
		s.allocationRepo,
		s.ledger,
		s.publisher,
	)
}

func (s *ExpirySchedulerSuite) allocate(entityID string, credits int64, expiresIn time.Duration) string {
	alloc, err := s.allocations.CreateAllocation(s.ctx, &service.CreateAllocationRequest{
		EntityID:   entityID,
		Credits:    decimal.NewFromInt(credits),
		ExpiresAt:  time.Now().UTC().Add(expiresIn),
		CreditType: types.CreditTypeSeasonal,
	})
	s.NoError(err)
	return alloc.ID
}

func (s *ExpirySchedulerSuite) TestSweepExpiresOverdueAllocations() {
	overdue := s.allocate("ent-1", 100, time.Minute)
	fresh := s.allocate("ent-1", 50, 24*time.Hour)

	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	expired, err := s.allocationRepo.GetByID(s.ctx, overdue)
	s.NoError(err)
	s.True(expired.IsExpired)
	s.False(expired.IsActive)

	kept, err := s.allocationRepo.GetByID(s.ctx, fresh)
	s.NoError(err)
	s.False(kept.IsExpired)

	// The unused 100 credits came back off the balance; the fresh bucket's
	// 50 remain.
	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("50", balance.AvailableCredits.String())
}

func (s *ExpirySchedulerSuite) TestSweepDeductsOnlyUnusedCredits() {
	s.allocate("ent-1", 100, time.Minute)
	_, err := s.allocations.ConsumeFromAllocations(s.ctx, &service.AllocationDrawRequest{
		EntityID:      "ent-1",
		Amount:        decimal.NewFromInt(60),
		OperationCode: "crm.contacts.create",
	})
	s.NoError(err)

	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	// 100 granted, 60 consumed, 40 unused deducted at expiry.
	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("0", balance.AvailableCredits.String())

	rows, err := s.ledger.ListTransactions(s.ctx, "ent-1", 10)
	s.NoError(err)
	s.Equal(types.TransactionTypeExpiry, rows[0].Type)
	s.Equal("-40", rows[0].Amount.String())
}

func (s *ExpirySchedulerSuite) TestExpiryRowCarriesCompleteOperationCode() {
	id := s.allocate("ent-1", 100, time.Minute)

	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	// The bucket has no target application; the op code substitutes the
	// general segment instead of collapsing to "credit_expiry::<id>".
	rows, err := s.ledger.ListTransactions(s.ctx, "ent-1", 10)
	s.NoError(err)
	s.Equal(types.TransactionTypeExpiry, rows[0].Type)
	s.Equal("credit_expiry:general:"+id, rows[0].OperationCode)
}

func (s *ExpirySchedulerSuite) TestSweepClampsWhenBalanceAlreadySpent() {
	s.allocate("ent-1", 100, time.Minute)

	// Drain the shared balance past the bucket's remainder.
	_, err := s.ledger.Debit(s.ctx, &service.LedgerEntryRequest{
		EntityID: "ent-1",
		Amount:   decimal.NewFromInt(70),
		Type:     types.TransactionTypeConsumption,
	})
	s.NoError(err)

	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	// The expiry deduction clamps at zero instead of failing.
	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("0", balance.AvailableCredits.String())
}

func (s *ExpirySchedulerSuite) TestSweepPublishesExpiryEvents() {
	s.allocate("ent-1", 100, time.Minute)

	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	published := s.publisher.EventsOfType(types.EventCreditExpired)
	s.Len(published, 1)
	s.True(published[0].Broadcast)
}

func (s *ExpirySchedulerSuite) TestSweepIsIdempotent() {
	s.allocate("ent-1", 100, time.Minute)

	deadline := time.Now().UTC().Add(time.Hour)
	s.scheduler.Sweep(context.Background(), deadline)
	s.scheduler.Sweep(context.Background(), deadline)

	// The second sweep finds nothing overdue.
	published := s.publisher.EventsOfType(types.EventCreditExpired)
	s.Len(published, 1)

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("0", balance.AvailableCredits.String())
}

func (s *ExpirySchedulerSuite) TestExpiredBucketNoLongerConsumable() {
	s.allocate("ent-1", 100, time.Minute)
	s.scheduler.Sweep(context.Background(), time.Now().UTC().Add(time.Hour))

	active, err := s.allocationRepo.ListActiveByEntity(s.ctx, "ent-1")
	s.NoError(err)
	s.Empty(active)
}
