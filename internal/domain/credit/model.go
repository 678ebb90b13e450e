package credit

import (
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// Balance is the authoritative prepaid credit balance of one entity within a
// tenant. One row per (tenant_id, entity_id); created lazily on the first
// mutation. AvailableCredits never goes below zero.
type Balance struct {
	ID               string          `db:"id" json:"id"`
	EntityID         string          `db:"entity_id" json:"entity_id"`
	AvailableCredits decimal.Decimal `db:"available_credits" json:"available_credits"`
	ReservedCredits  decimal.Decimal `db:"reserved_credits" json:"reserved_credits"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	LastUpdatedAt    time.Time       `db:"last_updated_at" json:"last_updated_at"`
	types.BaseModel
}

func (b *Balance) TableName() string {
	return "credit_balances"
}

func (b *Balance) Validate() error {
	if b.AvailableCredits.IsNegative() {
		return ierr.NewError("available credits cannot be negative").
			WithHint("Credit balances never go below zero").
			WithReportableDetails(map[string]any{
				"entity_id":         b.EntityID,
				"available_credits": b.AvailableCredits,
			}).
			Mark(ierr.ErrValidation)
	}
	if b.ReservedCredits.IsNegative() {
		return ierr.NewError("reserved credits cannot be negative").
			WithHint("Reserved credits never go below zero").
			WithReportableDetails(map[string]any{
				"entity_id":        b.EntityID,
				"reserved_credits": b.ReservedCredits,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NewBalance returns a zero balance for the given entity, ready for its first
// mutation.
func NewBalance(entityID string, base types.BaseModel) *Balance {
	return &Balance{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CREDIT_BALANCE),
		EntityID:         entityID,
		AvailableCredits: decimal.Zero,
		ReservedCredits:  decimal.Zero,
		IsActive:         true,
		LastUpdatedAt:    base.CreatedAt,
		BaseModel:        base,
	}
}
