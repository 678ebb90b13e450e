package allocation

import (
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// SeasonalAllocation is a time-bounded, campaign-tagged bucket of credits.
// The bucket is consumed FIFO by expiry date and finalized as a whole by the
// expiry scheduler: once expired it is no longer active and its unused
// remainder is deducted from the entity balance.
type SeasonalAllocation struct {
	ID                string           `db:"id" json:"id"`
	EntityID          string           `db:"entity_id" json:"entity_id"`
	TargetApplication string           `db:"target_application" json:"target_application,omitempty"`
	AllocatedCredits  decimal.Decimal  `db:"allocated_credits" json:"allocated_credits"`
	UsedCredits       decimal.Decimal  `db:"used_credits" json:"used_credits"`
	ExpiresAt         time.Time        `db:"expires_at" json:"expires_at"`
	IsActive          bool             `db:"is_active" json:"is_active"`
	IsExpired         bool             `db:"is_expired" json:"is_expired"`
	CreditType        types.CreditType `db:"credit_type" json:"credit_type"`
	CampaignID        string           `db:"campaign_id" json:"campaign_id,omitempty"`
	CampaignName      string           `db:"campaign_name" json:"campaign_name,omitempty"`
	types.BaseModel
}

func (a *SeasonalAllocation) TableName() string {
	return "seasonal_credit_allocations"
}

func (a *SeasonalAllocation) Validate() error {
	if err := a.CreditType.Validate(); err != nil {
		return err
	}
	if !a.AllocatedCredits.IsPositive() {
		return ierr.NewError("allocated credits must be positive").
			WithHint("Allocations must carry a positive credit amount").
			WithReportableDetails(map[string]any{
				"allocated_credits": a.AllocatedCredits,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	if a.UsedCredits.IsNegative() || a.UsedCredits.GreaterThan(a.AllocatedCredits) {
		return ierr.NewError("used credits out of range").
			WithHint("Used credits must stay between zero and the allocated amount").
			WithReportableDetails(map[string]any{
				"allocation_id":     a.ID,
				"used_credits":      a.UsedCredits,
				"allocated_credits": a.AllocatedCredits,
			}).
			Mark(ierr.ErrValidation)
	}
	if a.IsExpired && a.IsActive {
		return ierr.NewError("expired allocation cannot stay active").
			WithHint("Expiry always deactivates the allocation").
			WithReportableDetails(map[string]any{
				"allocation_id": a.ID,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Remaining returns the unconsumed credits in the bucket.
func (a *SeasonalAllocation) Remaining() decimal.Decimal {
	return a.AllocatedCredits.Sub(a.UsedCredits)
}

// ConsumableBy reports whether an operation may draw from this bucket.
// Application-scoped buckets only serve operations of that application.
func (a *SeasonalAllocation) ConsumableBy(appCode string) bool {
	if !a.IsActive || a.IsExpired {
		return false
	}
	if a.TargetApplication == "" {
		return true
	}
	return a.TargetApplication == appCode
}
