package types

import (
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/samber/lo"
)

// CreditType classifies a seasonal allocation bucket.
type CreditType string

const (
	CreditTypeSeasonal       CreditType = "seasonal"
	CreditTypeBonus          CreditType = "bonus"
	CreditTypePromotional    CreditType = "promotional"
	CreditTypeEvent          CreditType = "event"
	CreditTypePartnership    CreditType = "partnership"
	CreditTypeTrialExtension CreditType = "trial_extension"
)

func (c CreditType) Validate() error {
	allowed := []CreditType{
		CreditTypeSeasonal,
		CreditTypeBonus,
		CreditTypePromotional,
		CreditTypeEvent,
		CreditTypePartnership,
		CreditTypeTrialExtension,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid credit type").
			WithHint("Credit type is not supported").
			WithReportableDetails(map[string]any{
				"credit_type": c,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PurchaseStatus is the lifecycle state of a credit purchase. A purchase moves
// to completed only after an authoritative paid signal from the gateway.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// PaymentMethod identifies how a purchase is settled.
type PaymentMethod string

const (
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodManual PaymentMethod = "manual"
)

// AllowancePeriod is the reset window of a free allowance on an operation
// configuration.
type AllowancePeriod string

const (
	AllowancePeriodDay   AllowancePeriod = "day"
	AllowancePeriodWeek  AllowancePeriod = "week"
	AllowancePeriodMonth AllowancePeriod = "month"
	AllowancePeriodYear  AllowancePeriod = "year"
)

func (p AllowancePeriod) Validate() error {
	allowed := []AllowancePeriod{
		AllowancePeriodDay,
		AllowancePeriodWeek,
		AllowancePeriodMonth,
		AllowancePeriodYear,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid allowance period").
			WithHint("Allowance period must be one of day, week, month, year").
			WithReportableDetails(map[string]any{
				"period": p,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// EntityType classifies an entity node inside a tenant's tree.
type EntityType string

const (
	EntityTypeOrganization EntityType = "organization"
	EntityTypeBranch       EntityType = "branch"
	EntityTypeDepartment   EntityType = "department"
)
