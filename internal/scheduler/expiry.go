package scheduler

import (
	"context"
	"time"

	"github.com/creditrail/creditrail/internal/config"
	allocdomain "github.com/creditrail/creditrail/internal/domain/allocation"
	"github.com/creditrail/creditrail/internal/domain/events"
	"github.com/creditrail/creditrail/internal/logger"
	"github.com/creditrail/creditrail/internal/postgres"
	"github.com/creditrail/creditrail/internal/publisher"
	"github.com/creditrail/creditrail/internal/service"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// driftAlertRatio is the per-tick failure share above which the sweep flags
// possible ledger drift.
const driftAlertRatio = 0.05

// ExpiryScheduler sweeps overdue seasonal allocations. The allocation table
// is authoritative: each overdue bucket is finalized in its own unit and the
// balance deduction of the unused remainder is best effort, clamped at zero.
// A sweep never fails the process; individual allocation failures are counted
// and retried on the next tick.
type ExpiryScheduler struct {
	cfg       *config.Configuration
	logger    *logger.Logger
	db        postgres.IClient
	repo      allocdomain.Repository
	ledger    service.LedgerService
	publisher publisher.EventPublisher
}

func NewExpiryScheduler(
	cfg *config.Configuration,
	logger *logger.Logger,
	db postgres.IClient,
	repo allocdomain.Repository,
	ledger service.LedgerService,
	pub publisher.EventPublisher,
) *ExpiryScheduler {
	return &ExpiryScheduler{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repo:      repo,
		ledger:    ledger,
		publisher: pub,
	}
}

// Start runs the sweep loop until the context is canceled.
func (s *ExpiryScheduler) Start(ctx context.Context) {
	interval := s.cfg.Scheduler.ExpiryInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.logger.Infow("expiry scheduler started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("expiry scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep processes every overdue allocation across all tenants once.
func (s *ExpiryScheduler) Sweep(ctx context.Context, now time.Time) {
	tenants, err := s.repo.ListExpiringTenants(ctx, now)
	if err != nil {
		s.logger.Errorw("expiry sweep could not list tenants", "error", err)
		return
	}

	for _, tenantID := range tenants {
		tenantCtx := types.SetTenantID(ctx, tenantID)
		tenantCtx = types.SetUserID(tenantCtx, types.SystemUserID)
		s.sweepTenant(tenantCtx, now)
	}
}

func (s *ExpiryScheduler) sweepTenant(ctx context.Context, now time.Time) {
	overdue, err := s.repo.ListExpiring(ctx, now)
	if err != nil {
		s.logger.Errorw("expiry sweep could not list allocations",
			"tenant_id", types.GetTenantID(ctx),
			"error", err,
		)
		return
	}
	if len(overdue) == 0 {
		return
	}

	failed := 0
	for _, alloc := range overdue {
		if err := s.expireOne(ctx, alloc); err != nil {
			failed++
			s.logger.Errorw("failed to expire allocation",
				"allocation_id", alloc.ID,
				"entity_id", alloc.EntityID,
				"error", err,
			)
		}
	}

	s.logger.Infow("expiry sweep finished",
		"tenant_id", types.GetTenantID(ctx),
		"processed", len(overdue),
		"failed", failed,
	)

	if failed > 0 && float64(failed)/float64(len(overdue)) > driftAlertRatio {
		s.logger.Errorw("expiry failure ratio above threshold",
			"tenant_id", types.GetTenantID(ctx),
			"processed", len(overdue),
			"failed", failed,
			"failure_class", types.FailureReconciliationDrift,
		)
	}
}

// expireOne finalizes a single allocation in one unit: mark it expired and
// deduct the unused remainder from the entity balance.
func (s *ExpiryScheduler) expireOne(ctx context.Context, alloc *allocdomain.SeasonalAllocation) error {
	unused := alloc.Remaining()

	// Untargeted buckets expire under a placeholder segment so the operation
	// code never carries an empty part.
	target := alloc.TargetApplication
	if target == "" {
		target = "general"
	}

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		alloc.IsExpired = true
		alloc.IsActive = false
		if err := s.repo.Update(ctx, alloc); err != nil {
			return err
		}

		if unused.IsPositive() {
			_, err := s.ledger.Debit(ctx, &service.LedgerEntryRequest{
				EntityID:         alloc.EntityID,
				Amount:           unused,
				Type:             types.TransactionTypeExpiry,
				OperationCode:    "credit_expiry:" + target + ":" + alloc.ID,
				ClampToAvailable: true,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishExpired(ctx, alloc, unused)
	return nil
}

func (s *ExpiryScheduler) publishExpired(ctx context.Context, alloc *allocdomain.SeasonalAllocation, unused decimal.Decimal) {
	if s.publisher == nil {
		return
	}

	data := &events.CreditEventData{
		EntityID:     alloc.EntityID,
		Amount:       unused,
		AllocationID: alloc.ID,
		CampaignID:   alloc.CampaignID,
	}

	var err error
	if alloc.TargetApplication != "" {
		_, err = s.publisher.Publish(ctx, alloc.TargetApplication, types.EventCreditExpired, alloc.EntityID, data)
	} else {
		_, err = s.publisher.PublishBroadcast(ctx, types.EventCreditExpired, alloc.EntityID, data)
	}
	if err != nil {
		s.logger.Errorw("failed to publish expiry event",
			"allocation_id", alloc.ID,
			"entity_id", alloc.EntityID,
			"error", err,
		)
	}
}
