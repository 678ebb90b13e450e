package types

import (
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/samber/lo"
)

// TransactionType classifies a ledger row. The ledger is append only; every
// balance change is mirrored by exactly one row of one of these types.
type TransactionType string

const (
	TransactionTypePurchase    TransactionType = "purchase"
	TransactionTypeConsumption TransactionType = "consumption"
	TransactionTypeExpiry      TransactionType = "expiry"
	TransactionTypeAllocation  TransactionType = "allocation"
	TransactionTypeTransferIn  TransactionType = "transfer_in"
	TransactionTypeTransferOut TransactionType = "transfer_out"
	TransactionTypeAdjustment  TransactionType = "adjustment"
)

func (t TransactionType) String() string {
	return string(t)
}

func (t TransactionType) Validate() error {
	allowed := []TransactionType{
		TransactionTypePurchase,
		TransactionTypeConsumption,
		TransactionTypeExpiry,
		TransactionTypeAllocation,
		TransactionTypeTransferIn,
		TransactionTypeTransferOut,
		TransactionTypeAdjustment,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid transaction type").
			WithHint("Transaction type is not supported").
			WithReportableDetails(map[string]any{
				"transaction_type": t,
				"allowed":          allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
