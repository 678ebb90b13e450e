package service

import (
	"context"
	"time"

	"github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/events"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// AllocationService manages seasonal credit buckets. An allocation adds
// credits to the entity balance and records a time-bounded bucket; draws come
// out of the buckets FIFO by expiry so credits closest to expiring are spent
// first.
type AllocationService interface {
	CreateAllocation(ctx context.Context, req *CreateAllocationRequest) (*allocation.SeasonalAllocation, error)
	// ConsumeFromAllocations draws the amount from the entity's active
	// buckets eligible for the operation's application. The bucket
	// increments and the consumption ledger row land in one unit.
	ConsumeFromAllocations(ctx context.Context, req *AllocationDrawRequest) (*Receipt, error)
	GetAllocation(ctx context.Context, id string) (*allocation.SeasonalAllocation, error)
	ListActiveAllocations(ctx context.Context, entityID string) ([]*allocation.SeasonalAllocation, error)
}

// CreateAllocationRequest grants a bucket of expiring credits to an entity.
type CreateAllocationRequest struct {
	EntityID          string           `json:"entity_id" validate:"required"`
	Credits           decimal.Decimal  `json:"credits" validate:"required"`
	ExpiresAt         time.Time        `json:"expires_at" validate:"required"`
	CreditType        types.CreditType `json:"credit_type" validate:"required"`
	TargetApplication string           `json:"target_application,omitempty"`
	CampaignID        string           `json:"campaign_id,omitempty"`
	CampaignName      string           `json:"campaign_name,omitempty"`
}

func (r *CreateAllocationRequest) Validate() error {
	if r.EntityID == "" {
		return ierr.NewError("entity id is required").
			Mark(ierr.ErrValidation)
	}
	if !r.Credits.IsPositive() {
		return ierr.NewError("allocation credits must be positive").
			WithReportableDetails(map[string]any{
				"entity_id": r.EntityID,
				"credits":   r.Credits,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	if r.ExpiresAt.IsZero() || !r.ExpiresAt.After(time.Now().UTC()) {
		return ierr.NewError("expiry must lie in the future").
			WithHint("Allocations are time bounded and must expire after creation").
			WithReportableDetails(map[string]any{
				"expires_at": r.ExpiresAt,
			}).
			Mark(ierr.ErrValidation)
	}
	return r.CreditType.Validate()
}

// AllocationDrawRequest consumes credits out of the entity's buckets for one
// operation.
type AllocationDrawRequest struct {
	EntityID      string              `json:"entity_id" validate:"required"`
	Amount        decimal.Decimal     `json:"amount" validate:"required"`
	OperationCode types.OperationCode `json:"operation_code" validate:"required"`
}

type allocationService struct {
	ServiceParams
	ledger LedgerService
}

func NewAllocationService(params ServiceParams, ledger LedgerService) AllocationService {
	return &allocationService{ServiceParams: params, ledger: ledger}
}

func (s *allocationService) CreateAllocation(ctx context.Context, req *CreateAllocationRequest) (*allocation.SeasonalAllocation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	alloc := &allocation.SeasonalAllocation{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SEASONAL_ALLOCATION),
		EntityID:          req.EntityID,
		TargetApplication: req.TargetApplication,
		AllocatedCredits:  req.Credits,
		UsedCredits:       decimal.Zero,
		ExpiresAt:         req.ExpiresAt.UTC(),
		IsActive:          true,
		CreditType:        req.CreditType,
		CampaignID:        req.CampaignID,
		CampaignName:      req.CampaignName,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	if err := alloc.Validate(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.AllocationRepo.Create(ctx, alloc); err != nil {
			return err
		}

		operationCode := "seasonal_allocation"
		if req.CampaignID != "" {
			operationCode = "seasonal_allocation:" + req.CampaignID
		}
		r, err := s.ledger.Credit(ctx, &LedgerEntryRequest{
			EntityID:      req.EntityID,
			Amount:        req.Credits,
			Type:          types.TransactionTypeAllocation,
			OperationCode: operationCode,
		})
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishAllocated(ctx, alloc, receipt)
	return alloc, nil
}

func (s *allocationService) ConsumeFromAllocations(ctx context.Context, req *AllocationDrawRequest) (*Receipt, error) {
	if req.EntityID == "" || !req.Amount.IsPositive() {
		return nil, ierr.NewError("entity id and a positive amount are required").
			Mark(ierr.ErrInvalidAmount)
	}
	if err := req.OperationCode.Validate(); err != nil {
		return nil, err
	}
	appCode := req.OperationCode.AppCode()

	var receipt *Receipt
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		buckets, err := s.AllocationRepo.ListActiveByEntity(ctx, req.EntityID)
		if err != nil {
			return err
		}

		remaining := req.Amount
		drawn := []*allocation.SeasonalAllocation{}
		for _, bucket := range buckets {
			if remaining.IsZero() {
				break
			}
			if !bucket.ConsumableBy(appCode) {
				continue
			}
			available := bucket.Remaining()
			if !available.IsPositive() {
				continue
			}

			draw := decimal.Min(available, remaining)
			bucket.UsedCredits = bucket.UsedCredits.Add(draw)
			remaining = remaining.Sub(draw)
			drawn = append(drawn, bucket)
		}

		if !remaining.IsZero() {
			return ierr.NewError("insufficient credits").
				WithHint("No eligible allocation buckets cover the requested amount").
				WithReportableDetails(map[string]any{
					"entity_id":      req.EntityID,
					"operation_code": req.OperationCode,
					"required":       req.Amount,
					"shortfall":      remaining,
				}).
				Mark(ierr.ErrInsufficientCredits)
		}

		for _, bucket := range drawn {
			if err := s.AllocationRepo.Update(ctx, bucket); err != nil {
				return err
			}
		}

		r, err := s.ledger.Debit(ctx, &LedgerEntryRequest{
			EntityID:      req.EntityID,
			Amount:        req.Amount,
			Type:          types.TransactionTypeConsumption,
			OperationCode: req.OperationCode.String(),
		})
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *allocationService) GetAllocation(ctx context.Context, id string) (*allocation.SeasonalAllocation, error) {
	return s.AllocationRepo.GetByID(ctx, id)
}

func (s *allocationService) ListActiveAllocations(ctx context.Context, entityID string) ([]*allocation.SeasonalAllocation, error) {
	return s.AllocationRepo.ListActiveByEntity(ctx, entityID)
}

func (s *allocationService) publishAllocated(ctx context.Context, alloc *allocation.SeasonalAllocation, receipt *Receipt) {
	if s.EventPublisher == nil {
		return
	}
	target := alloc.TargetApplication
	data := &events.CreditEventData{
		EntityID:      alloc.EntityID,
		Amount:        alloc.AllocatedCredits,
		Balance:       receipt.NewBalance,
		TransactionID: receipt.TransactionID,
		AllocationID:  alloc.ID,
		CampaignID:    alloc.CampaignID,
	}

	var err error
	if target == "" {
		_, err = s.EventPublisher.PublishBroadcast(ctx, types.EventCreditAllocated, alloc.EntityID, data)
	} else {
		_, err = s.EventPublisher.Publish(ctx, target, types.EventCreditAllocated, alloc.EntityID, data)
	}
	if err != nil {
		s.Logger.Errorw("failed to publish allocation event",
			"allocation_id", alloc.ID,
			"entity_id", alloc.EntityID,
			"error", err,
		)
	}
}
