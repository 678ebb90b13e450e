package opconfig

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// VolumeTier overrides the credit cost once month-to-date usage reaches the
// threshold. Tiers are kept sorted by ascending threshold.
type VolumeTier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Cost      decimal.Decimal `json:"cost"`
}

// VolumeTiers is an ordered list of volume tiers stored as a JSON column.
type VolumeTiers []VolumeTier

func (v VolumeTiers) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func (v *VolumeTiers) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}
	bytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported volume tiers column type %T", src)
	}
	return json.Unmarshal(bytes, v)
}

// TierFor returns the cost override of the tier with the largest threshold
// not exceeding usage, or nil when no tier applies.
func (v VolumeTiers) TierFor(usage decimal.Decimal) *VolumeTier {
	var match *VolumeTier
	sorted := make(VolumeTiers, len(v))
	copy(sorted, v)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Threshold.LessThan(sorted[j].Threshold)
	})
	for i := range sorted {
		if sorted[i].Threshold.LessThanOrEqual(usage) {
			match = &sorted[i]
		}
	}
	return match
}

// Config prices one operation code. Rows are scoped to an entity, a tenant,
// or globally; the resolver applies the inheritance chain.
type Config struct {
	ID                  string                `db:"id" json:"id"`
	OperationCode       types.OperationCode   `db:"operation_code" json:"operation_code"`
	EntityID            *string               `db:"entity_id" json:"entity_id,omitempty"`
	IsGlobal            bool                  `db:"is_global" json:"is_global"`
	CreditCost          decimal.Decimal       `db:"credit_cost" json:"credit_cost"`
	Unit                string                `db:"unit" json:"unit"`
	UnitMultiplier      decimal.Decimal       `db:"unit_multiplier" json:"unit_multiplier"`
	FreeAllowance       int                   `db:"free_allowance" json:"free_allowance"`
	FreeAllowancePeriod types.AllowancePeriod `db:"free_allowance_period" json:"free_allowance_period"`
	VolumeTiers         VolumeTiers           `db:"volume_tiers" json:"volume_tiers,omitempty"`
	AllowOverage        bool                  `db:"allow_overage" json:"allow_overage"`
	OverageLimit        *decimal.Decimal      `db:"overage_limit" json:"overage_limit,omitempty"`
	OverageCost         *decimal.Decimal      `db:"overage_cost" json:"overage_cost,omitempty"`
	IsActive            bool                  `db:"is_active" json:"is_active"`
	Priority            int                   `db:"priority" json:"priority"`
	types.BaseModel
}

func (c *Config) TableName() string {
	return "credit_configurations"
}

func (c *Config) Validate() error {
	if err := c.OperationCode.Validate(); err != nil {
		return err
	}
	if c.CreditCost.IsNegative() {
		return ierr.NewError("credit cost cannot be negative").
			WithHint("Operation pricing must be zero or positive").
			WithReportableDetails(map[string]any{
				"operation_code": c.OperationCode,
				"credit_cost":    c.CreditCost,
			}).
			Mark(ierr.ErrValidation)
	}
	if !c.UnitMultiplier.IsPositive() {
		return ierr.NewError("unit multiplier must be positive").
			WithHint("Unit multiplier scales the per-unit cost and must be greater than zero").
			WithReportableDetails(map[string]any{
				"operation_code":  c.OperationCode,
				"unit_multiplier": c.UnitMultiplier,
			}).
			Mark(ierr.ErrValidation)
	}
	if c.FreeAllowance < 0 {
		return ierr.NewError("free allowance cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if c.IsGlobal && c.TenantID != "" {
		return ierr.NewError("global configs carry no tenant").
			WithHint("A config row is either global or tenant scoped, never both").
			WithReportableDetails(map[string]any{
				"operation_code": c.OperationCode,
				"tenant_id":      c.TenantID,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
