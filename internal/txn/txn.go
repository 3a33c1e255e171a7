// Package txn provides the scoped-transaction helper that keeps rollback
// bookkeeping in one place. Go has no destructors to roll a transaction
// back when its handle goes out of scope, so every catalog.Tx obtained
// outside of Run must be paired with a deferred rollback by the caller;
// Run does that once, centrally, and commits only on a nil return.
package txn

import (
	"context"
	"fmt"

	"github.com/indexlake/indexlake/catalog"
)

// Run opens a transaction on cat, invokes fn with it, and commits on a nil
// return or rolls back otherwise — including when fn panics, in which case
// the rollback happens and the panic is re-raised to the caller of Run.
func Run(ctx context.Context, cat catalog.Catalog, fn func(tx catalog.Tx) error) error {
	tx, err := cat.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	committed = true
	return nil
}

// RunValue is the value-returning form of Run, for operations that need to
// hand back a result (e.g. the row ids a scan resolved) alongside the
// commit.
func RunValue[T any](ctx context.Context, cat catalog.Catalog, fn func(tx catalog.Tx) (T, error)) (T, error) {
	var result T
	err := Run(ctx, cat, func(tx catalog.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
