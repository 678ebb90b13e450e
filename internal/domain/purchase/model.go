package purchase

import (
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// Purchase records a prepaid credit purchase. It is created pending and moves
// to completed only after the gateway's authoritative paid signal; CreditedAt
// is stamped when the matching ledger row is appended.
type Purchase struct {
	ID                string               `db:"id" json:"id"`
	EntityID          string               `db:"entity_id" json:"entity_id"`
	CreditAmount      decimal.Decimal      `db:"credit_amount" json:"credit_amount"`
	UnitPrice         decimal.Decimal      `db:"unit_price" json:"unit_price"`
	TotalAmount       decimal.Decimal      `db:"total_amount" json:"total_amount"`
	PaymentMethod     types.PaymentMethod  `db:"payment_method" json:"payment_method"`
	PurchaseStatus    types.PurchaseStatus `db:"purchase_status" json:"purchase_status"`
	ExternalSessionID string               `db:"external_session_id" json:"external_session_id,omitempty"`
	RequestedBy       string               `db:"requested_by" json:"requested_by"`
	PaidAt            *time.Time           `db:"paid_at" json:"paid_at,omitempty"`
	CreditedAt        *time.Time           `db:"credited_at" json:"credited_at,omitempty"`
	types.BaseModel
}

func (p *Purchase) TableName() string {
	return "credit_purchases"
}

func (p *Purchase) Validate() error {
	if !p.CreditAmount.IsPositive() {
		return ierr.NewError("credit amount must be positive").
			WithHint("Purchases must add a positive number of credits").
			WithReportableDetails(map[string]any{
				"credit_amount": p.CreditAmount,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	if p.UnitPrice.IsNegative() {
		return ierr.NewError("unit price cannot be negative").
			WithHint("Unit price is a configuration parameter with no default").
			Mark(ierr.ErrValidation)
	}
	return nil
}
