// Package tx carries a SQL transaction through context so stores can join it.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type ctxKey struct{}

// WithTx returns ctx carrying t. A nil transaction leaves ctx unchanged.
func WithTx(ctx context.Context, t *sql.Tx) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, t)
}

// From returns the transaction carried by ctx, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	t, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return t, ok
}

// Run calls fn with a context carrying a new transaction on db. The
// transaction commits when fn returns nil and rolls back otherwise. When ctx
// already carries a transaction fn joins it and the outer caller decides.
func Run(ctx context.Context, db *sql.DB, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	t, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(WithTx(ctx, t)); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := t.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
