package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"
)

// JobsChannel is the Postgres NOTIFY channel the worker driver listens on to
// wake up as soon as a new upload_request is queued, instead of polling on
// a fixed interval alone.
const JobsChannel = "curator_jobs"

// NotifyJobsQueued wakes up listening workers. It is best-effort: a worker
// that misses the notification (or isn't listening yet) still finds the row
// on its next poll, so a failure here is logged, not fatal.
func NotifyJobsQueued(ctx context.Context, pool *pgxpool.Pool) errors.E {
	_, err := pool.Exec(ctx, "SELECT pg_notify($1, '')", JobsChannel)
	if err != nil {
		return WithPgxError(err)
	}
	return nil
}

// Listener holds a dedicated connection LISTENing on JobsChannel. Dedicated
// because pgx delivers notifications only on the connection that issued
// LISTEN, which a pool cannot guarantee for arbitrary Exec calls.
type Listener struct {
	conn *pgxpool.Conn
}

// Listen acquires a connection from pool and issues LISTEN on JobsChannel.
// Callers must call Close to return the connection to the pool.
func Listen(ctx context.Context, pool *pgxpool.Pool) (*Listener, errors.E) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, WithPgxError(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{JobsChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, WithPgxError(err)
	}
	return &Listener{conn: conn}, nil
}

// Wait blocks until a notification arrives or ctx is done.
func (l *Listener) Wait(ctx context.Context) errors.E {
	_, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return WithPgxError(err)
	}
	return nil
}

// Close releases the underlying connection back to the pool.
func (l *Listener) Close() {
	l.conn.Release()
}
