package service

import (
	"context"
	"testing"
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type AllocationServiceSuite struct {
	suite.Suite
	ctx            context.Context
	allocations    AllocationService
	ledger         LedgerService
	allocationRepo *testutil.InMemoryAllocationStore
	publisher      *testutil.InMemoryPublisher
}

func TestAllocationService(t *testing.T) {
	suite.Run(t, new(AllocationServiceSuite))
}

func (s *AllocationServiceSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.allocationRepo = testutil.NewInMemoryAllocationStore()
	s.publisher = testutil.NewInMemoryPublisher()

	params := ServiceParams{
		Logger:         testutil.GetLogger(),
		Config:         testutil.GetConfig(),
		DB:             testutil.NewInMemoryDB(),
		EventPublisher: s.publisher,
		CreditRepo:     testutil.NewInMemoryCreditStore(),
		AllocationRepo: s.allocationRepo,
	}
	s.ledger = NewLedgerService(params)
	s.allocations = NewAllocationService(params, s.ledger)
}

func (s *AllocationServiceSuite) allocate(entityID string, credits int64, expiresIn time.Duration, target string) string {
	alloc, err := s.allocations.CreateAllocation(s.ctx, &CreateAllocationRequest{
		EntityID:          entityID,
		Credits:           decimal.NewFromInt(credits),
		ExpiresAt:         time.Now().UTC().Add(expiresIn),
		CreditType:        types.CreditTypeSeasonal,
		TargetApplication: target,
	})
	s.NoError(err)
	return alloc.ID
}

func (s *AllocationServiceSuite) TestCreateAllocationCreditsBalance() {
	s.allocate("ent-1", 100, time.Hour, "")

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("100", balance.AvailableCredits.String())

	rows, err := s.ledger.ListTransactions(s.ctx, "ent-1", 10)
	s.NoError(err)
	s.Len(rows, 1)
	s.Equal(types.TransactionTypeAllocation, rows[0].Type)
}

func (s *AllocationServiceSuite) TestCreateAllocationPublishesEvent() {
	s.allocate("ent-1", 100, time.Hour, "crm")

	published := s.publisher.EventsOfType(types.EventCreditAllocated)
	s.Len(published, 1)
	s.Equal("crm", published[0].Target)
	s.Equal("crm.credit.allocated", published[0].RoutingKey)
}

func (s *AllocationServiceSuite) TestPastExpiryRejected() {
	_, err := s.allocations.CreateAllocation(s.ctx, &CreateAllocationRequest{
		EntityID:   "ent-1",
		Credits:    decimal.NewFromInt(10),
		ExpiresAt:  time.Now().UTC().Add(-time.Hour),
		CreditType: types.CreditTypeSeasonal,
	})
	s.Error(err)
}

func (s *AllocationServiceSuite) TestConsumeDrainsBucketsFIFOByExpiry() {
	late := s.allocate("ent-1", 50, 48*time.Hour, "")
	early := s.allocate("ent-1", 50, time.Hour, "")

	_, err := s.allocations.ConsumeFromAllocations(s.ctx, &AllocationDrawRequest{
		EntityID:      "ent-1",
		Amount:        decimal.NewFromInt(60),
		OperationCode: "crm.contacts.create",
	})
	s.NoError(err)

	// The earlier-expiring bucket drains first, the later one covers the rest.
	earlyBucket, err := s.allocations.GetAllocation(s.ctx, early)
	s.NoError(err)
	s.Equal("50", earlyBucket.UsedCredits.String())

	lateBucket, err := s.allocations.GetAllocation(s.ctx, late)
	s.NoError(err)
	s.Equal("10", lateBucket.UsedCredits.String())

	balance, err := s.ledger.GetBalance(s.ctx, "ent-1")
	s.NoError(err)
	s.Equal("40", balance.AvailableCredits.String())
}

func (s *AllocationServiceSuite) TestApplicationScopedBucketsOnlyServeTheirApplication() {
	hrOnly := s.allocate("ent-1", 50, time.Hour, "hr")
	shared := s.allocate("ent-1", 50, 48*time.Hour, "")

	_, err := s.allocations.ConsumeFromAllocations(s.ctx, &AllocationDrawRequest{
		EntityID:      "ent-1",
		Amount:        decimal.NewFromInt(30),
		OperationCode: "crm.contacts.create",
	})
	s.NoError(err)

	// The hr bucket expires sooner but cannot serve a crm operation.
	hrBucket, err := s.allocations.GetAllocation(s.ctx, hrOnly)
	s.NoError(err)
	s.Equal("0", hrBucket.UsedCredits.String())

	sharedBucket, err := s.allocations.GetAllocation(s.ctx, shared)
	s.NoError(err)
	s.Equal("30", sharedBucket.UsedCredits.String())
}

func (s *AllocationServiceSuite) TestConsumeInsufficientBuckets() {
	s.allocate("ent-1", 20, time.Hour, "")

	_, err := s.allocations.ConsumeFromAllocations(s.ctx, &AllocationDrawRequest{
		EntityID:      "ent-1",
		Amount:        decimal.NewFromInt(50),
		OperationCode: "crm.contacts.create",
	})
	s.Error(err)
	s.True(ierr.IsInsufficientCredits(err))

	// Nothing was drawn from the bucket.
	active, err := s.allocations.ListActiveAllocations(s.ctx, "ent-1")
	s.NoError(err)
	s.Len(active, 1)
	s.Equal("0", active[0].UsedCredits.String())
}
