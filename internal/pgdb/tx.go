package pgdb

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"
)

const maxRetries = 10

var ErrMaxRetriesReached = errors.Base("max retries reached")

type contextKey struct{ name string }

var transactionContextKey = &contextKey{"transaction"} //nolint:gochecknoglobals

type dbTx struct {
	Tx        pgx.Tx
	Callbacks []func()
}

func nestedTransaction(ctx context.Context, parentTx pgx.Tx, fn func(ctx context.Context, tx pgx.Tx) errors.E) (errE errors.E) { //nolint:nonamedreturns
	tx, err := parentTx.Begin(ctx)
	if err != nil {
		return WithPgxError(err)
	}
	defer func() {
		rerr := tx.Rollback(ctx)
		if rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			errE = errors.Join(errE, rerr)
		}
	}()

	errE = fn(ctx, tx)
	if errE != nil {
		return errE
	}

	err = tx.Commit(ctx)
	if err != nil && (errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgx.ErrTxCommitRollback)) {
		return nil
	}
	return WithPgxError(err)
}

// RetryTransaction runs fn inside a serializable transaction, retrying on
// serialization failures and deadlocks with jittered backoff. Nested calls
// (detected via context) join the enclosing transaction instead of opening
// a new one. afterCommitFn, if given, only runs once the outermost
// transaction actually commits.
func RetryTransaction(
	ctx context.Context, dbpool *pgxpool.Pool, accessMode pgx.TxAccessMode,
	fn func(ctx context.Context, tx pgx.Tx) errors.E,
	afterCommitFn func(),
) errors.E {
	if parentTx, ok := ctx.Value(transactionContextKey).(*dbTx); ok {
		if afterCommitFn != nil {
			parentTx.Callbacks = append(parentTx.Callbacks, afterCommitFn)
		}
		return nestedTransaction(ctx, parentTx.Tx, fn)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}

		var callbacks []func()

		errE := (func() (errE errors.E) { //nolint:nonamedreturns
			tx, err := dbpool.BeginTx(ctx, pgx.TxOptions{
				IsoLevel:       pgx.Serializable,
				AccessMode:     accessMode,
				DeferrableMode: pgx.NotDeferrable,
			})
			if err != nil {
				return WithPgxError(err)
			}
			defer func() {
				rerr := tx.Rollback(ctx)
				if rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
					errE = errors.Join(errE, rerr)
				}
			}()

			parentTx := &dbTx{Tx: tx}

			errE = fn(context.WithValue(ctx, transactionContextKey, parentTx), tx)
			if errE != nil {
				return errE
			}

			callbacks = parentTx.Callbacks

			err = tx.Commit(ctx)
			if err != nil && (errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgx.ErrTxCommitRollback)) {
				return nil
			}
			return WithPgxError(err)
		})()

		if errE != nil {
			if errors.Is(errE, context.Canceled) || errors.Is(errE, context.DeadlineExceeded) {
				return errE
			}
			var pgError *pgconn.PgError
			if errors.As(errE, &pgError) {
				switch pgError.Code {
				case ErrorCodeSerializationFailure, ErrorCodeDeadlockDetected:
					time.Sleep(time.Duration(attempt*10+rand.IntN(20)) * time.Millisecond) //nolint:gosec
					continue
				}
			}
			return errE
		}

		if afterCommitFn != nil {
			callbacks = append(callbacks, afterCommitFn)
		}
		slices.Reverse(callbacks)
		for _, cb := range callbacks {
			cb()
		}

		return nil
	}

	return errors.WithStack(ErrMaxRetriesReached)
}
