package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/hub"
	"gitlab.com/daxserver/curator/internal/pgdb"
)

// maxAttempts and backoffCap bound the retry driver's handling of a single
// job: after an upload fails for a retryable reason (HashLockError), it is
// retried with jittered exponential backoff up to maxAttempts times before
// the driver gives up and leaves it for the next poll cycle.
const (
	maxAttempts  = 3
	backoffBase  = 2 * time.Second
	backoffCap   = 10 * time.Minute
	pollFallback = 30 * time.Second
)

// Driver pulls queued upload_requests ids (via pgdb's exactly-once lease,
// woken up by LISTEN/NOTIFY with a polling fallback) and runs them through a
// Worker with bounded retry. After every attempt it reports the owning
// batch's current state to hub, the bridge from C5 to C6 (§2).
type Driver struct {
	pool   *pgxpool.Pool
	store  *pgdb.Store
	worker *Worker
	hub    *hub.Hub
	logger zerolog.Logger
}

// NewDriver builds a Driver.
func NewDriver(pool *pgxpool.Pool, store *pgdb.Store, worker *Worker, h *hub.Hub, logger zerolog.Logger) *Driver {
	return &Driver{pool: pool, store: store, worker: worker, hub: h, logger: logger}
}

// Run loops until ctx is canceled: drain all currently-queued jobs, then
// wait for a NOTIFY (or pollFallback, whichever comes first) before draining
// again.
func (d *Driver) Run(ctx context.Context) errors.E {
	for {
		if err := d.drainQueue(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		d.waitForWork(ctx)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// waitForWork blocks until a job-queued notification arrives or
// pollFallback elapses, whichever is first. Listener acquisition failures
// degrade to a plain timed sleep rather than aborting the driver.
func (d *Driver) waitForWork(ctx context.Context) {
	listener, errE := pgdb.Listen(ctx, d.pool)
	if errE != nil {
		d.logger.Warn().Err(errE).Msg("failed to acquire notification listener, falling back to polling")
		select {
		case <-ctx.Done():
		case <-time.After(pollFallback):
		}
		return
	}
	defer listener.Close()

	waitCtx, cancel := context.WithTimeout(ctx, pollFallback)
	defer cancel()

	if errE := listener.Wait(waitCtx); errE != nil && ctx.Err() == nil && !errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		d.logger.Warn().Err(errE).Msg("notification wait failed")
	}
}

// drainQueue processes every queued upload id known at the moment it is
// called. New arrivals during the drain are picked up by the next call, not
// this one.
func (d *Driver) drainQueue(ctx context.Context) errors.E {
	ids, errE := d.store.ListQueuedUploadIDs(ctx)
	if errE != nil {
		return errE
	}
	for _, id := range ids {
		if err := d.processWithRetry(ctx, id); err != nil {
			d.logger.Error().Err(err).Int64("uploadId", id).Msg("upload failed permanently")
		}
		d.reportBatch(ctx, id)
	}
	return nil
}

// reportBatch announces uploadID's batch's current state to the hub,
// whatever that state turned out to be — queued, in_progress, or one of the
// terminal statuses; rows the hub has not yet seen are published as part of
// the delta. Best-effort: a
// failure here must never turn a processed job back into an error the
// driver retries.
func (d *Driver) reportBatch(ctx context.Context, uploadID int64) {
	row, errE := d.store.GetUploadRequest(ctx, uploadID)
	if errE != nil {
		d.logger.Warn().Err(errE).Int64("uploadId", uploadID).Msg("could not reload row to report batch state")
		return
	}

	rows, errE := d.store.ListBatchUploadRequests(ctx, row.BatchID)
	if errE != nil {
		d.logger.Warn().Err(errE).Int64("batchId", row.BatchID).Msg("could not list batch uploads to report batch state")
		return
	}

	if errE := d.hub.ReportBatchState(row.BatchID, rows); errE != nil {
		d.logger.Warn().Err(errE).Int64("batchId", row.BatchID).Msg("failed to publish batch state")
	}
}

// processWithRetry retries only HashLockError (another in-flight upload
// holds the same content hash) with jittered exponential backoff capped at
// backoffCap, up to maxAttempts attempts total. Job-level failures are
// recorded on the row by Worker.Process itself; any other error it returns
// is passed back to the caller, which logs it, and is not retried.
func (d *Driver) processWithRetry(ctx context.Context, uploadID int64) error {
	backoff := retry.NewExponential(backoffBase)
	backoff = retry.WithJitterPercent(20, backoff) //nolint:mnd
	backoff = retry.WithCappedDuration(backoffCap, backoff)
	backoff = retry.WithMaxRetries(maxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.worker.Process(ctx, uploadID)
		if err == nil {
			return nil
		}

		var lockErr *HashLockError
		if errors.As(err, &lockErr) {
			return retry.RetryableError(err)
		}

		return err
	})
}
