package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/jmoiron/sqlx"
)

// TxKey is the context key type for storing transaction
type TxKey struct{}

// UnitTimeout bounds the lifetime of a transactional unit. Exceeding it
// aborts the unit and rolls back.
const UnitTimeout = 30 * time.Second

// Tx wraps sqlx.Tx to support nested transactions using savepoints and to
// collect post-commit hooks. Hooks run in registration order after the
// top-level commit, never inside the transaction.
type Tx struct {
	*sqlx.Tx
	savepointID int
	ID          string // Unique ID for tracing
	hooks       []func()
}

// GetTx retrieves a transaction from the context if it exists
func GetTx(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(TxKey{}).(*Tx)
	return tx, ok
}

// BeginTx starts a new tenant-bound transaction. A unit acquired without a
// tenant in context fails immediately with an auth configuration error.
func (db *DB) BeginTx(ctx context.Context) (context.Context, *Tx, error) {
	if err := types.ValidateTenantContext(ctx); err != nil {
		return ctx, nil, ierr.WithError(err).
			WithHint("Storage units require an active tenant context").
			Mark(ierr.ErrAuthConfiguration)
	}

	if tx, ok := GetTx(ctx); ok {
		// Create a new savepoint for nested transaction
		tx.savepointID++
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)

		_, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", savepoint))
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to create savepoint: %w", err)
		}
		return ctx, tx, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		Tx: sqlxTx,
		ID: types.GenerateUUID(),
	}

	if err := applySessionContext(ctx, tx.Tx); err != nil {
		_ = tx.Rollback()
		return ctx, nil, err
	}

	db.logger.Debugw("starting new transaction", "tx_id", tx.ID)

	ctx = context.WithValue(ctx, TxKey{}, tx)
	return ctx, tx, nil
}

// CommitTx commits the current transaction level
func (db *DB) CommitTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)
		_, err := tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", savepoint))
		if err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		tx.savepointID--
		return nil
	}

	db.logger.Debugw("committing transaction", "tx_id", tx.ID)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, hook := range tx.hooks {
		hook()
	}
	tx.hooks = nil
	return nil
}

// RollbackTx rolls back the current transaction level
func (db *DB) RollbackTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := fmt.Sprintf("sp_%d", tx.savepointID)
		_, err := tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", savepoint))
		if err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		tx.savepointID--
		return nil
	}

	db.logger.Debugw("rolling back transaction", "tx_id", tx.ID)

	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	tx.hooks = nil
	return nil
}

// WithTx executes a function within a transaction. If a transaction is
// already active it is reused via a savepoint; post-commit hooks fire only
// after the outermost commit.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	_, outer := GetTx(ctx)
	if !outer {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, UnitTimeout)
		defer cancel()
	}

	ctx, tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if v := recover(); v != nil {
			db.logger.Errorw("rolling back transaction due to panic",
				"tx_id", tx.ID,
				"panic", v,
			)
			_ = db.RollbackTx(ctx)
			panic(v)
		}
	}()

	if err := fn(ctx); err != nil {
		if rerr := db.RollbackTx(ctx); rerr != nil {
			err = fmt.Errorf("rolling back transaction: %v (original error: %w)", rerr, err)
		}
		return err
	}

	return db.CommitTx(ctx)
}

// OnCommit registers a hook on the active unit. Outside a unit the hook runs
// immediately.
func (db *DB) OnCommit(ctx context.Context, hook func()) {
	if tx, ok := GetTx(ctx); ok {
		tx.hooks = append(tx.hooks, hook)
		return
	}
	hook()
}
