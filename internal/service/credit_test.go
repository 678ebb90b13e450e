package service

import (
	"context"
	"testing"
	"time"

	"github.com/creditrail/creditrail/internal/domain/appregistry"
	"github.com/creditrail/creditrail/internal/domain/entity"
	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/testutil"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type CreditServiceSuite struct {
	suite.Suite
	ctx     context.Context
	credits CreditService
	ledger  LedgerService

	entityRepo   *testutil.InMemoryEntityStore
	purchaseRepo *testutil.InMemoryPurchaseStore
	registry     *testutil.InMemoryAppRegistryStore
	publisher    *testutil.InMemoryPublisher
}

func TestCreditService(t *testing.T) {
	suite.Run(t, new(CreditServiceSuite))
}

func (s *CreditServiceSuite) SetupTest() {
	s.ctx = testutil.SetupContext()
	s.entityRepo = testutil.NewInMemoryEntityStore()
	s.purchaseRepo = testutil.NewInMemoryPurchaseStore()
	s.registry = testutil.NewInMemoryAppRegistryStore()
	s.publisher = testutil.NewInMemoryPublisher()

	params := ServiceParams{
		Logger:          testutil.GetLogger(),
		Config:          testutil.GetConfig(),
		DB:              testutil.NewInMemoryDB(),
		EventPublisher:  s.publisher,
		CreditRepo:      testutil.NewInMemoryCreditStore(),
		EntityRepo:      s.entityRepo,
		PurchaseRepo:    s.purchaseRepo,
		AllocationRepo:  testutil.NewInMemoryAllocationStore(),
		OpConfigRepo:    testutil.NewInMemoryOpConfigStore(),
		AppRegistryRepo: s.registry,
	}
	s.ledger = NewLedgerService(params)
	resolver := NewConfigResolverService(params)
	allocations := NewAllocationService(params, s.ledger)
	s.credits = NewCreditService(params, s.ledger, resolver, allocations)

	s.entityRepo.Add(&entity.Entity{
		ID:         "ent-root",
		EntityType: types.EntityTypeOrganization,
		Name:       "Root Org",
		IsActive:   true,
		IsDefault:  true,
		BaseModel: types.BaseModel{
			TenantID:  testutil.TestTenantID,
			Status:    types.StatusPublished,
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		},
	})
	s.registry.AddApplication(&appregistry.Application{
		ID:      "app-crm",
		AppCode: "crm",
	})
}

func (s *CreditServiceSuite) buy(amount int64) *PurchaseSession {
	session, err := s.credits.PurchaseCredits(s.ctx, &PurchaseCreditsRequest{
		CreditAmount:  decimal.NewFromInt(amount),
		UnitPrice:     decimal.NewFromFloat(0.1),
		PaymentMethod: types.PaymentMethodManual,
	})
	s.NoError(err)
	return session
}

func (s *CreditServiceSuite) TestPurchaseResolvesPrimaryEntity() {
	session := s.buy(100)

	s.Equal("ent-root", session.Purchase.EntityID)
	s.Equal(types.PurchaseStatusCompleted, session.Purchase.PurchaseStatus)
	s.Equal("10", session.Purchase.TotalAmount.String())

	balance, err := s.ledger.GetBalance(s.ctx, "ent-root")
	s.NoError(err)
	s.Equal("100", balance.AvailableCredits.String())
}

func (s *CreditServiceSuite) TestGatewayPurchaseStaysPendingUntilWebhook() {
	session, err := s.credits.PurchaseCredits(s.ctx, &PurchaseCreditsRequest{
		CreditAmount:  decimal.NewFromInt(50),
		UnitPrice:     decimal.NewFromInt(1),
		PaymentMethod: types.PaymentMethodStripe,
	})
	s.NoError(err)
	s.Equal(types.PurchaseStatusPending, session.Purchase.PurchaseStatus)
	s.NotEmpty(session.SessionID)

	balance, err := s.ledger.GetBalance(s.ctx, "ent-root")
	s.NoError(err)
	s.Equal("0", balance.AvailableCredits.String())

	completed, err := s.credits.CompletePurchase(s.ctx, &CompletePurchaseRequest{
		ExternalSessionID: session.SessionID,
	})
	s.NoError(err)
	s.Equal(types.PurchaseStatusCompleted, completed.PurchaseStatus)
	s.NotNil(completed.PaidAt)
	s.NotNil(completed.CreditedAt)

	balance, err = s.ledger.GetBalance(s.ctx, "ent-root")
	s.NoError(err)
	s.Equal("50", balance.AvailableCredits.String())
}

func (s *CreditServiceSuite) TestReplayedWebhookCreditsOnce() {
	session, err := s.credits.PurchaseCredits(s.ctx, &PurchaseCreditsRequest{
		CreditAmount:  decimal.NewFromInt(50),
		UnitPrice:     decimal.NewFromInt(1),
		PaymentMethod: types.PaymentMethodStripe,
	})
	s.NoError(err)

	for i := 0; i < 3; i++ {
		_, err := s.credits.CompletePurchase(s.ctx, &CompletePurchaseRequest{
			ExternalSessionID: session.SessionID,
		})
		s.NoError(err)
	}

	balance, err := s.ledger.GetBalance(s.ctx, "ent-root")
	s.NoError(err)
	s.Equal("50", balance.AvailableCredits.String())

	published := s.publisher.EventsOfType(types.EventPurchaseCompleted)
	s.Len(published, 1)
}

func (s *CreditServiceSuite) TestUnknownSessionRejected() {
	_, err := s.credits.CompletePurchase(s.ctx, &CompletePurchaseRequest{
		ExternalSessionID: "cs_unknown",
	})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *CreditServiceSuite) TestConsumeDefaultsToOneCreditPerOperation() {
	s.buy(10)

	result, err := s.credits.ConsumeCredits(s.ctx, &ConsumeCreditsRequest{
		OperationCode: "crm.contacts.create",
	})
	s.NoError(err)
	s.True(result.Success)
	s.Equal("9", result.Balance.String())
	s.Equal(ConfigSourceDefault, result.Quote.Config.Source)
}

func (s *CreditServiceSuite) TestConsumeInsufficientIsBusinessOutcome() {
	result, err := s.credits.ConsumeCredits(s.ctx, &ConsumeCreditsRequest{
		OperationCode: "crm.contacts.create",
	})
	s.NoError(err)
	s.False(result.Success)
	s.Equal(ierr.ErrCodeInsufficientCredits, result.Reason)
	s.Equal("0", result.Available.String())
	s.Equal("1", result.Required.String())
}

func (s *CreditServiceSuite) TestConsumePublishesEvent() {
	s.buy(10)

	_, err := s.credits.ConsumeCredits(s.ctx, &ConsumeCreditsRequest{
		OperationCode:     "crm.contacts.create",
		TargetApplication: "crm",
	})
	s.NoError(err)

	published := s.publisher.EventsOfType(types.EventCreditConsumed)
	s.Len(published, 1)
	s.Equal("crm.credit.consumed", published[0].RoutingKey)
}

func (s *CreditServiceSuite) TestAllocateToApplication() {
	s.buy(100)

	receipt, err := s.credits.AllocateToApplication(s.ctx, &AllocateToApplicationRequest{
		TargetApplication: "crm",
		Amount:            decimal.NewFromInt(40),
	})
	s.NoError(err)
	s.Equal("60", receipt.NewBalance.String())

	// One from the purchase fan-out, one from the allocation itself.
	published := s.publisher.EventsOfType(types.EventCreditAllocated)
	s.Len(published, 2)
	s.Equal("crm", published[1].Target)
	s.Equal("40", published[1].Data.(*events.CreditEventData).Amount.String())
}

func (s *CreditServiceSuite) TestPurchaseNotifiesRegisteredApplications() {
	s.buy(100)

	published := s.publisher.EventsOfType(types.EventCreditAllocated)
	s.Len(published, 1)
	s.Equal("crm", published[0].Target)
	s.Equal("crm.credit.allocated", published[0].RoutingKey)
	s.Equal("100", published[0].Data.(*events.CreditEventData).Amount.String())
}

func (s *CreditServiceSuite) TestAllocateToUnregisteredApplicationRejected() {
	s.buy(100)

	_, err := s.credits.AllocateToApplication(s.ctx, &AllocateToApplicationRequest{
		TargetApplication: "billing",
		Amount:            decimal.NewFromInt(40),
	})
	s.Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *CreditServiceSuite) TestBalanceSummary() {
	s.buy(100)

	summary, err := s.credits.GetBalanceSummary(s.ctx, "")
	s.NoError(err)
	s.Equal("ent-root", summary.EntityID)
	s.Equal("100", summary.AvailableCredits.String())
	s.Equal("0", summary.AllocatedRemaining.String())
}
