package credit

import (
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// Transaction is one append-only ledger row. For a given (tenant, entity) the
// rows form a chain: the previous balance of row n equals the new balance of
// the most recent prior row, and new - previous = amount.
type Transaction struct {
	ID              string                `db:"id" json:"id"`
	EntityID        string                `db:"entity_id" json:"entity_id"`
	Type            types.TransactionType `db:"transaction_type" json:"transaction_type"`
	Amount          decimal.Decimal       `db:"amount" json:"amount"`
	PreviousBalance decimal.Decimal       `db:"previous_balance" json:"previous_balance"`
	NewBalance      decimal.Decimal       `db:"new_balance" json:"new_balance"`
	OperationCode   string                `db:"operation_code" json:"operation_code,omitempty"`
	InitiatedBy     string                `db:"initiated_by" json:"initiated_by,omitempty"`
	IdempotencyKey  string                `db:"idempotency_key" json:"idempotency_key,omitempty"`
	types.BaseModel
}

func (t *Transaction) TableName() string {
	return "credit_transactions"
}

func (t *Transaction) Validate() error {
	if err := t.Type.Validate(); err != nil {
		return err
	}
	if !t.NewBalance.Sub(t.PreviousBalance).Equal(t.Amount) {
		return ierr.NewError("ledger row does not balance").
			WithHint("New balance minus previous balance must equal the amount").
			WithReportableDetails(map[string]any{
				"transaction_id":   t.ID,
				"amount":           t.Amount,
				"previous_balance": t.PreviousBalance,
				"new_balance":      t.NewBalance,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
