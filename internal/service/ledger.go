package service

import (
	"context"
	"time"

	"github.com/creditrail/creditrail/internal/domain/credit"
	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// LedgerService is the balance engine. Every mutation runs in one storage
// unit: lock the balance row, append a ledger row, write the new balance.
// Concurrent mutations of the same entity serialize on the row lock, so the
// ledger chain stays unbroken under parallel load.
type LedgerService interface {
	Credit(ctx context.Context, req *LedgerEntryRequest) (*Receipt, error)
	Debit(ctx context.Context, req *LedgerEntryRequest) (*Receipt, error)
	Transfer(ctx context.Context, req *TransferRequest) (*TransferReceipt, error)

	GetBalance(ctx context.Context, entityID string) (*credit.Balance, error)
	ListTransactions(ctx context.Context, entityID string, limit int) ([]*credit.Transaction, error)
}

// LedgerEntryRequest describes one credit or debit against an entity balance.
// Amount is always positive; the verb decides the sign of the ledger row.
type LedgerEntryRequest struct {
	EntityID       string                `json:"entity_id" validate:"required"`
	Amount         decimal.Decimal       `json:"amount" validate:"required"`
	Type           types.TransactionType `json:"transaction_type" validate:"required"`
	OperationCode  string                `json:"operation_code,omitempty"`
	IdempotencyKey string                `json:"idempotency_key,omitempty"`

	// ClampToAvailable makes a debit best effort: it deducts at most the
	// available balance instead of failing. Used by the expiry sweep, where
	// the allocation table is authoritative and the balance merely follows.
	ClampToAvailable bool `json:"-"`
}

func (r *LedgerEntryRequest) Validate() error {
	if r.EntityID == "" {
		return ierr.NewError("entity id is required").
			Mark(ierr.ErrValidation)
	}
	if err := r.Type.Validate(); err != nil {
		return err
	}
	// Zero-amount consumption rows are allowed: they record free-allowance
	// usage so the allowance counter depletes.
	if r.Amount.IsZero() && r.Type == types.TransactionTypeConsumption {
		return nil
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithHint("Ledger entries always carry a positive amount").
			WithReportableDetails(map[string]any{
				"entity_id": r.EntityID,
				"amount":    r.Amount,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	return nil
}

// TransferRequest moves credits between two entities of the same tenant.
type TransferRequest struct {
	FromEntityID   string          `json:"from_entity_id" validate:"required"`
	ToEntityID     string          `json:"to_entity_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (r *TransferRequest) Validate() error {
	if r.FromEntityID == "" || r.ToEntityID == "" {
		return ierr.NewError("both transfer entities are required").
			Mark(ierr.ErrValidation)
	}
	if r.FromEntityID == r.ToEntityID {
		return ierr.NewError("cannot transfer credits to the same entity").
			WithReportableDetails(map[string]any{
				"entity_id": r.FromEntityID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("transfer amount must be positive").
			WithReportableDetails(map[string]any{
				"amount": r.Amount,
			}).
			Mark(ierr.ErrInvalidAmount)
	}
	return nil
}

// Receipt reports a completed ledger mutation.
type Receipt struct {
	TransactionID   string          `json:"transaction_id"`
	EntityID        string          `json:"entity_id"`
	Amount          decimal.Decimal `json:"amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

// TransferReceipt pairs the outgoing and incoming halves of a transfer.
type TransferReceipt struct {
	Out *Receipt `json:"out"`
	In  *Receipt `json:"in"`
}

type ledgerService struct {
	ServiceParams
}

func NewLedgerService(params ServiceParams) LedgerService {
	return &ledgerService{ServiceParams: params}
}

func (s *ledgerService) Credit(ctx context.Context, req *LedgerEntryRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if existing, err := s.findReplay(ctx, req.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			receipt = existing
			return nil
		}

		r, err := s.apply(ctx, req.EntityID, req.Amount, req.Type, req.OperationCode, req.IdempotencyKey)
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

func (s *ledgerService) Debit(ctx context.Context, req *LedgerEntryRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if existing, err := s.findReplay(ctx, req.IdempotencyKey); err != nil {
			return err
		} else if existing != nil {
			receipt = existing
			return nil
		}

		balance, err := s.lockOrCreateBalance(ctx, req.EntityID)
		if err != nil {
			return err
		}

		amount := req.Amount
		if balance.AvailableCredits.LessThan(amount) {
			if !req.ClampToAvailable {
				// No writes happen on this path; the unit rolls back
				// cleanly and the caller sees the shortfall.
				return ierr.NewError("insufficient credits").
					WithHint("The entity balance does not cover the requested amount").
					WithReportableDetails(map[string]any{
						"entity_id": req.EntityID,
						"available": balance.AvailableCredits,
						"required":  amount,
					}).
					Mark(ierr.ErrInsufficientCredits)
			}

			s.Logger.Warnw("debit clamped to available balance",
				"entity_id", req.EntityID,
				"requested", amount,
				"available", balance.AvailableCredits,
				"failure_class", types.FailureReconciliationDrift,
			)
			amount = balance.AvailableCredits
		}

		r, err := s.append(ctx, balance, amount.Neg(), req.Type, req.OperationCode, req.IdempotencyKey)
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

func (s *ledgerService) Transfer(ctx context.Context, req *TransferRequest) (*TransferReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var receipt *TransferReceipt
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		// Lock both rows in a fixed order so two opposing transfers cannot
		// deadlock each other.
		first, second := req.FromEntityID, req.ToEntityID
		if second < first {
			first, second = second, first
		}

		balances := map[string]*credit.Balance{}
		for _, entityID := range []string{first, second} {
			b, err := s.lockOrCreateBalance(ctx, entityID)
			if err != nil {
				return err
			}
			balances[entityID] = b
		}

		from := balances[req.FromEntityID]
		if from.AvailableCredits.LessThan(req.Amount) {
			return ierr.NewError("insufficient credits").
				WithHint("The source entity balance does not cover the transfer").
				WithReportableDetails(map[string]any{
					"entity_id": req.FromEntityID,
					"available": from.AvailableCredits,
					"required":  req.Amount,
				}).
				Mark(ierr.ErrInsufficientCredits)
		}

		out, err := s.append(ctx, from, req.Amount.Neg(), types.TransactionTypeTransferOut, "", req.IdempotencyKey)
		if err != nil {
			return err
		}
		in, err := s.append(ctx, balances[req.ToEntityID], req.Amount, types.TransactionTypeTransferIn, "", "")
		if err != nil {
			return err
		}

		receipt = &TransferReceipt{Out: out, In: in}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, entityID string) (*credit.Balance, error) {
	balance, err := s.CreditRepo.GetBalance(ctx, entityID)
	if err != nil {
		if ierr.IsNotFound(err) {
			// Entities without a balance row read as zero; the row appears
			// on the first mutation.
			return credit.NewBalance(entityID, types.GetDefaultBaseModel(ctx)), nil
		}
		return nil, err
	}
	return balance, nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, entityID string, limit int) ([]*credit.Transaction, error) {
	return s.CreditRepo.ListTransactions(ctx, entityID, limit)
}

// apply locks the balance and appends a signed entry in the current unit.
func (s *ledgerService) apply(ctx context.Context, entityID string, amount decimal.Decimal, txType types.TransactionType, operationCode, idempotencyKey string) (*Receipt, error) {
	balance, err := s.lockOrCreateBalance(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return s.append(ctx, balance, amount, txType, operationCode, idempotencyKey)
}

// append writes one ledger row and the matching balance update. The balance
// must already be locked in this unit.
func (s *ledgerService) append(ctx context.Context, balance *credit.Balance, amount decimal.Decimal, txType types.TransactionType, operationCode, idempotencyKey string) (*Receipt, error) {
	previous := balance.AvailableCredits
	next := previous.Add(amount)
	if next.IsNegative() {
		return nil, ierr.NewError("ledger entry would drive the balance negative").
			WithReportableDetails(map[string]any{
				"entity_id": balance.EntityID,
				"available": previous,
				"amount":    amount,
			}).
			Mark(ierr.ErrInsufficientCredits)
	}

	initiatedBy := types.GetUserID(ctx)
	if initiatedBy == "" {
		initiatedBy = types.SystemUserID
	}

	txn := &credit.Transaction{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CREDIT_TRANSACTION),
		EntityID:        balance.EntityID,
		Type:            txType,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      next,
		OperationCode:   operationCode,
		InitiatedBy:     initiatedBy,
		IdempotencyKey:  idempotencyKey,
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	if err := s.CreditRepo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.CreditRepo.UpdateBalance(ctx, balance.EntityID, next); err != nil {
		return nil, err
	}
	balance.AvailableCredits = next
	balance.LastUpdatedAt = time.Now().UTC()

	return &Receipt{
		TransactionID:   txn.ID,
		EntityID:        balance.EntityID,
		Amount:          amount,
		PreviousBalance: previous,
		NewBalance:      next,
	}, nil
}

// lockOrCreateBalance returns the entity's balance row locked for the rest of
// the unit, creating the zero row on first use.
func (s *ledgerService) lockOrCreateBalance(ctx context.Context, entityID string) (*credit.Balance, error) {
	balance, err := s.CreditRepo.GetBalanceForUpdate(ctx, entityID)
	if err == nil {
		return balance, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	balance = credit.NewBalance(entityID, types.GetDefaultBaseModel(ctx))
	if err := s.CreditRepo.CreateBalance(ctx, balance); err != nil {
		return nil, err
	}
	// Re-read under lock so a racing creator cannot slip between the insert
	// and our mutation.
	return s.CreditRepo.GetBalanceForUpdate(ctx, entityID)
}

// findReplay short-circuits a retried request by its idempotency key,
// reconstructing the original receipt from the stored ledger row.
func (s *ledgerService) findReplay(ctx context.Context, idempotencyKey string) (*Receipt, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	txn, err := s.CreditRepo.GetTransactionByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	s.Logger.Infow("replayed ledger request by idempotency key",
		"idempotency_key", idempotencyKey,
		"transaction_id", txn.ID,
	)
	return &Receipt{
		TransactionID:   txn.ID,
		EntityID:        txn.EntityID,
		Amount:          txn.Amount,
		PreviousBalance: txn.PreviousBalance,
		NewBalance:      txn.NewBalance,
	}, nil
}
