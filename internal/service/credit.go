package service

import (
	"context"
	"fmt"
	"time"

	"github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/domain/purchase"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CreditService is the orchestration surface callers use. It resolves the
// target entity, prices operations through the config resolver, drives the
// ledger and allocation engines, and publishes the resulting facts to the
// inter-application bus after the storage unit commits.
type CreditService interface {
	// PurchaseCredits opens a pending purchase and returns the checkout
	// session the caller completes with the payment gateway.
	PurchaseCredits(ctx context.Context, req *PurchaseCreditsRequest) (*PurchaseSession, error)
	// CompletePurchase handles the gateway's paid signal. Idempotent on the
	// external session: a replayed webhook returns the already completed
	// purchase without crediting twice.
	CompletePurchase(ctx context.Context, req *CompletePurchaseRequest) (*purchase.Purchase, error)

	// ConsumeCredits prices and charges one operation. Business failures
	// (insufficient credits, invalid amounts) come back as an unsuccessful
	// result, not as an error.
	ConsumeCredits(ctx context.Context, req *ConsumeCreditsRequest) (*ConsumeResult, error)

	// AllocateToApplication moves credits from the entity balance into an
	// application silo and notifies the application.
	AllocateToApplication(ctx context.Context, req *AllocateToApplicationRequest) (*Receipt, error)
	TransferCredits(ctx context.Context, req *TransferRequest) (*TransferReceipt, error)

	GetBalanceSummary(ctx context.Context, entityID string) (*BalanceSummary, error)
}

type PurchaseCreditsRequest struct {
	EntityID      string              `json:"entity_id,omitempty"`
	CreditAmount  decimal.Decimal     `json:"credit_amount" validate:"required"`
	UnitPrice     decimal.Decimal     `json:"unit_price" validate:"required"`
	PaymentMethod types.PaymentMethod `json:"payment_method" validate:"required"`
}

// PurchaseSession is the pending purchase plus the checkout handle the buyer
// is redirected to.
type PurchaseSession struct {
	Purchase    *purchase.Purchase `json:"purchase"`
	SessionID   string             `json:"session_id"`
	CheckoutURL string             `json:"checkout_url"`
}

type CompletePurchaseRequest struct {
	ExternalSessionID string     `json:"external_session_id" validate:"required"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

type ConsumeCreditsRequest struct {
	EntityID      string              `json:"entity_id,omitempty"`
	OperationCode types.OperationCode `json:"operation_code" validate:"required"`
	Quantity      decimal.Decimal     `json:"quantity,omitempty"`
	// TargetApplication scopes the draw to application-eligible allocation
	// buckets before falling back to the shared balance.
	TargetApplication string `json:"target_application,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

// ConsumeResult reports a consumption attempt. Success false with a reason is
// a normal business outcome; an insufficient-credits result also carries the
// shortfall so the caller can prompt for a top-up.
type ConsumeResult struct {
	Success   bool            `json:"success"`
	Reason    string          `json:"reason,omitempty"`
	Available decimal.Decimal `json:"available"`
	Required  decimal.Decimal `json:"required"`
	Quote     *Quote          `json:"quote,omitempty"`
	Receipt   *Receipt        `json:"receipt,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
}

type AllocateToApplicationRequest struct {
	EntityID          string          `json:"entity_id,omitempty"`
	TargetApplication string          `json:"target_application" validate:"required"`
	Amount            decimal.Decimal `json:"amount" validate:"required"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
}

// BalanceSummary is the read-model callers display: the shared balance plus
// the expiring buckets still open against it.
type BalanceSummary struct {
	EntityID           string                           `json:"entity_id"`
	AvailableCredits   decimal.Decimal                  `json:"available_credits"`
	ReservedCredits    decimal.Decimal                  `json:"reserved_credits"`
	AllocatedRemaining decimal.Decimal                  `json:"allocated_remaining"`
	ActiveAllocations  []*allocation.SeasonalAllocation `json:"active_allocations,omitempty"`
	LastUpdatedAt      time.Time                        `json:"last_updated_at"`
}

type creditService struct {
	ServiceParams
	ledger      LedgerService
	resolver    ConfigResolverService
	allocations AllocationService
}

func NewCreditService(params ServiceParams, ledger LedgerService, resolver ConfigResolverService, allocations AllocationService) CreditService {
	return &creditService{
		ServiceParams: params,
		ledger:        ledger,
		resolver:      resolver,
		allocations:   allocations,
	}
}

func (s *creditService) PurchaseCredits(ctx context.Context, req *PurchaseCreditsRequest) (*PurchaseSession, error) {
	if !req.CreditAmount.IsPositive() {
		return nil, ierr.NewError("credit amount must be positive").
			WithReportableDetails(map[string]any{
				"credit_amount": req.CreditAmount,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	if req.UnitPrice.IsNegative() {
		return nil, ierr.NewError("unit price cannot be negative").
			WithHint("Unit price is a required pricing parameter with no default").
			Mark(ierr.ErrValidation)
	}

	entityID, err := s.resolveEntity(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}

	sessionID := fmt.Sprintf("cs_%s", types.GenerateUUID())
	p := &purchase.Purchase{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CREDIT_PURCHASE),
		EntityID:          entityID,
		CreditAmount:      req.CreditAmount,
		UnitPrice:         req.UnitPrice,
		TotalAmount:       req.CreditAmount.Mul(req.UnitPrice),
		PaymentMethod:     req.PaymentMethod,
		PurchaseStatus:    types.PurchaseStatusPending,
		ExternalSessionID: sessionID,
		RequestedBy:       types.GetUserID(ctx),
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.PurchaseRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	session := &PurchaseSession{
		Purchase:  p,
		SessionID: sessionID,
	}
	if s.Config.Service.FrontendURL != "" {
		session.CheckoutURL = fmt.Sprintf("%s/checkout/%s", s.Config.Service.FrontendURL, sessionID)
	}

	// Manual settlement skips the gateway round trip.
	if req.PaymentMethod == types.PaymentMethodManual {
		completed, err := s.CompletePurchase(ctx, &CompletePurchaseRequest{ExternalSessionID: sessionID})
		if err != nil {
			return nil, err
		}
		session.Purchase = completed
	}
	return session, nil
}

func (s *creditService) CompletePurchase(ctx context.Context, req *CompletePurchaseRequest) (*purchase.Purchase, error) {
	if req.ExternalSessionID == "" {
		return nil, ierr.NewError("external session id is required").
			Mark(ierr.ErrValidation)
	}

	var completed *purchase.Purchase
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.PurchaseRepo.GetByExternalSessionID(ctx, req.ExternalSessionID)
		if err != nil {
			return err
		}

		// Replayed webhook: the first completion already credited.
		if p.PurchaseStatus == types.PurchaseStatusCompleted {
			completed = p
			return nil
		}
		if p.PurchaseStatus != types.PurchaseStatusPending {
			return ierr.NewError("purchase is not pending").
				WithReportableDetails(map[string]any{
					"purchase_id": p.ID,
					"status":      p.PurchaseStatus,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		receipt, err := s.ledger.Credit(ctx, &LedgerEntryRequest{
			EntityID:       p.EntityID,
			Amount:         p.CreditAmount,
			Type:           types.TransactionTypePurchase,
			OperationCode:  "credit_purchase:" + p.ID,
			IdempotencyKey: "purchase:" + p.ID,
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		paidAt := now
		if req.PaidAt != nil {
			paidAt = req.PaidAt.UTC()
		}
		p.PurchaseStatus = types.PurchaseStatusCompleted
		p.PaidAt = &paidAt
		p.CreditedAt = &now
		if err := s.PurchaseRepo.Update(ctx, p); err != nil {
			return err
		}

		s.Logger.Infow("purchase completed",
			"purchase_id", p.ID,
			"entity_id", p.EntityID,
			"credits", p.CreditAmount,
			"transaction_id", receipt.TransactionID,
		)
		s.DB.OnCommit(ctx, func() {
			s.publishPurchaseCompleted(ctx, p)
		})
		completed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *creditService) ConsumeCredits(ctx context.Context, req *ConsumeCreditsRequest) (*ConsumeResult, error) {
	if err := req.OperationCode.Validate(); err != nil {
		return nil, err
	}
	quantity := req.Quantity
	if quantity.IsZero() {
		quantity = decimal.NewFromInt(1)
	}

	entityID, err := s.resolveEntity(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}

	quote, err := s.resolver.PriceQuantity(ctx, req.OperationCode, entityID, quantity)
	if err != nil {
		if ierr.IsInvalidAmount(err) {
			return s.failedConsume(ctx, err, entityID, nil), nil
		}
		return nil, err
	}

	var receipt *Receipt
	if req.TargetApplication != "" && quote.TotalCost.IsPositive() {
		receipt, err = s.allocations.ConsumeFromAllocations(ctx, &AllocationDrawRequest{
			EntityID:      entityID,
			Amount:        quote.TotalCost,
			OperationCode: req.OperationCode,
		})
		// Empty or exhausted buckets fall through to the shared balance.
		if err != nil && !ierr.IsInsufficientCredits(err) {
			return nil, err
		}
	}

	if receipt == nil {
		receipt, err = s.ledger.Debit(ctx, &LedgerEntryRequest{
			EntityID:       entityID,
			Amount:         quote.TotalCost,
			Type:           types.TransactionTypeConsumption,
			OperationCode:  req.OperationCode.String(),
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			if ierr.IsInsufficientCredits(err) || ierr.IsInvalidAmount(err) {
				return s.failedConsume(ctx, err, entityID, quote), nil
			}
			return nil, err
		}
	}

	s.publishConsumed(ctx, req, entityID, quote, receipt)

	return &ConsumeResult{
		Success: true,
		Quote:   quote,
		Receipt: receipt,
		Balance: receipt.NewBalance,
	}, nil
}

func (s *creditService) failedConsume(ctx context.Context, err error, entityID string, quote *Quote) *ConsumeResult {
	result := &ConsumeResult{
		Success: false,
		Reason:  ierr.ErrCodeOf(err),
	}
	if quote != nil {
		result.Required = quote.TotalCost
	}
	if ierr.IsInsufficientCredits(err) {
		if balance, berr := s.ledger.GetBalance(ctx, entityID); berr == nil {
			result.Available = balance.AvailableCredits
			result.Balance = balance.AvailableCredits
		}
	}
	return result
}

func (s *creditService) AllocateToApplication(ctx context.Context, req *AllocateToApplicationRequest) (*Receipt, error) {
	if req.TargetApplication == "" {
		return nil, ierr.NewError("target application is required").
			Mark(ierr.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, ierr.NewError("allocation amount must be positive").
			WithReportableDetails(map[string]any{
				"amount": req.Amount,
			}).
			Mark(ierr.ErrInvalidAmount)
	}

	// The application must be registered before it can hold credits.
	if _, err := s.AppRegistryRepo.GetApplicationByCode(ctx, req.TargetApplication); err != nil {
		return nil, err
	}

	entityID, err := s.resolveEntity(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.ledger.Debit(ctx, &LedgerEntryRequest{
		EntityID:       entityID,
		Amount:         req.Amount,
		Type:           types.TransactionTypeAllocation,
		OperationCode:  "application_allocation:" + req.TargetApplication,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	if s.EventPublisher != nil {
		_, err := s.EventPublisher.Publish(ctx, req.TargetApplication, types.EventCreditAllocated, entityID, &events.CreditEventData{
			EntityID:      entityID,
			Amount:        req.Amount,
			Balance:       receipt.NewBalance,
			TransactionID: receipt.TransactionID,
		})
		if err != nil {
			s.Logger.Errorw("failed to publish application allocation",
				"entity_id", entityID,
				"target_application", req.TargetApplication,
				"error", err,
			)
		}
	}
	return receipt, nil
}

func (s *creditService) TransferCredits(ctx context.Context, req *TransferRequest) (*TransferReceipt, error) {
	return s.ledger.Transfer(ctx, req)
}

func (s *creditService) GetBalanceSummary(ctx context.Context, entityID string) (*BalanceSummary, error) {
	resolvedID, err := s.resolveEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.GetBalance(ctx, resolvedID)
	if err != nil {
		return nil, err
	}

	active, err := s.AllocationRepo.ListActiveByEntity(ctx, resolvedID)
	if err != nil {
		return nil, err
	}
	remaining := lo.Reduce(active, func(acc decimal.Decimal, a *allocation.SeasonalAllocation, _ int) decimal.Decimal {
		return acc.Add(a.Remaining())
	}, decimal.Zero)

	return &BalanceSummary{
		EntityID:           resolvedID,
		AvailableCredits:   balance.AvailableCredits,
		ReservedCredits:    balance.ReservedCredits,
		AllocatedRemaining: remaining,
		ActiveAllocations:  active,
		LastUpdatedAt:      balance.LastUpdatedAt,
	}, nil
}

// resolveEntity falls back to the tenant's primary root when the caller does
// not name an entity.
func (s *creditService) resolveEntity(ctx context.Context, entityID string) (string, error) {
	if entityID != "" {
		e, err := s.EntityRepo.GetByID(ctx, entityID)
		if err != nil {
			return "", err
		}
		return e.ID, nil
	}
	primary, err := s.EntityRepo.GetPrimary(ctx)
	if err != nil {
		return "", err
	}
	return primary.ID, nil
}

func (s *creditService) publishConsumed(ctx context.Context, req *ConsumeCreditsRequest, entityID string, quote *Quote, receipt *Receipt) {
	if s.EventPublisher == nil {
		return
	}
	data := &events.CreditEventData{
		EntityID:      entityID,
		Amount:        quote.TotalCost,
		Balance:       receipt.NewBalance,
		OperationCode: req.OperationCode.String(),
		TransactionID: receipt.TransactionID,
	}

	var err error
	if req.TargetApplication != "" {
		_, err = s.EventPublisher.Publish(ctx, req.TargetApplication, types.EventCreditConsumed, entityID, data)
	} else {
		_, err = s.EventPublisher.PublishBroadcast(ctx, types.EventCreditConsumed, entityID, data)
	}
	if err != nil {
		s.Logger.Errorw("failed to publish consumption event",
			"entity_id", entityID,
			"operation_code", req.OperationCode,
			"error", err,
		)
	}
}

func (s *creditService) publishPurchaseCompleted(ctx context.Context, p *purchase.Purchase) {
	if s.EventPublisher == nil {
		return
	}
	_, err := s.EventPublisher.PublishBroadcast(ctx, types.EventPurchaseCompleted, p.EntityID, &events.PurchaseEventData{
		PurchaseID:    p.ID,
		EntityID:      p.EntityID,
		CreditAmount:  p.CreditAmount,
		TotalAmount:   p.TotalAmount,
		PaymentMethod: string(p.PaymentMethod),
	})
	if err != nil {
		s.Logger.Errorw("failed to publish purchase completion",
			"purchase_id", p.ID,
			"entity_id", p.EntityID,
			"error", err,
		)
	}

	// Every registered application learns the shared balance grew.
	applications, err := s.AppRegistryRepo.ListApplications(ctx)
	if err != nil {
		s.Logger.Errorw("failed to list applications for purchase fan-out",
			"purchase_id", p.ID,
			"error", err,
		)
		return
	}
	for _, app := range applications {
		_, err := s.EventPublisher.Publish(ctx, app.AppCode, types.EventCreditAllocated, p.EntityID, &events.CreditEventData{
			EntityID: p.EntityID,
			Amount:   p.CreditAmount,
		})
		if err != nil {
			s.Logger.Errorw("failed to publish purchase allocation",
				"purchase_id", p.ID,
				"target_application", app.AppCode,
				"error", err,
			)
		}
	}
}
