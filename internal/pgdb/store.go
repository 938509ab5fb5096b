package pgdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// Store is the Job Store (C3): durable persistence of users, batches, and
// upload requests, with atomic status transitions and aggregate statistics.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// upsertUser ensures a User row exists for userid, refreshing username.
// Must be called from inside the enclosing transaction.
func upsertUser(ctx context.Context, tx pgx.Tx, userid, username string) errors.E {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (userid, username) VALUES ($1, $2)
		ON CONFLICT (userid) DO UPDATE SET username = EXCLUDED.username, updated_at = now()
	`, userid, username)
	if err != nil {
		return WithPgxError(err)
	}
	return nil
}

// UpsertUser ensures a User row exists for userid, refreshing username.
func (s *Store) UpsertUser(ctx context.Context, userid, username string) errors.E {
	return RetryTransaction(ctx, s.Pool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		return upsertUser(ctx, tx, userid, username)
	}, nil)
}

// CreateUploadRequests upserts the User, opens a new Batch, and inserts one
// UploadRequest per item (status queued, access_token sealed) — all in a
// single transaction. Returns the rows with assigned ids.
func (s *Store) CreateUploadRequests(
	ctx context.Context, userid, username, handler string, items []Item, sealedToken []byte,
) (*Batch, []UploadRequest, errors.E) {
	var batch Batch
	var requests []UploadRequest

	errE := RetryTransaction(ctx, s.Pool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		batch = Batch{}
		requests = nil

		if errE := upsertUser(ctx, tx, userid, username); errE != nil {
			return errE
		}

		batchUID := uuid.New()
		err := tx.QueryRow(ctx, `
			INSERT INTO batches (batch_uid, userid) VALUES ($1, $2)
			RETURNING id, batch_uid, userid, created_at, updated_at
		`, batchUID, userid).Scan(&batch.ID, &batch.BatchUID, &batch.UserID, &batch.CreatedAt, &batch.UpdatedAt)
		if err != nil {
			return WithPgxError(err)
		}

		for _, item := range items {
			var req UploadRequest
			err := tx.QueryRow(ctx, `
				INSERT INTO upload_requests (
					batchid, userid, key, handler, filename, wikitext, sdc, labels,
					collection, copyright_override, status, access_token
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				RETURNING id, batchid, userid, key, handler, filename, wikitext, status,
					created_at, updated_at
			`,
				batch.ID, userid, item.Key, handler, item.Filename, item.Wikitext,
				nullableJSON(item.SDC), nullableJSON(item.Labels), item.Collection,
				item.CopyrightOverride, StatusQueued, sealedToken,
			).Scan(
				&req.ID, &req.BatchID, &req.UserID, &req.Key, &req.Handler, &req.Filename,
				&req.Wikitext, &req.Status, &req.CreatedAt, &req.UpdatedAt,
			)
			if err != nil {
				return WithPgxError(err)
			}
			req.SDC = item.SDC
			req.Labels = item.Labels
			req.Collection = item.Collection
			req.CopyrightOverride = item.CopyrightOverride
			requests = append(requests, req)
		}

		return nil
	}, nil)
	if errE != nil {
		return nil, nil, errE
	}

	return &batch, requests, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// ErrLostRace is returned by AcquireForProcessing when the row was not in
// status queued anymore — another worker already owns it, or it was never
// queued to begin with.
var ErrLostRace = errors.Base("upload request is not queued")

// AcquireForProcessing is the sole exactly-once lease: it atomically
// transitions one row from queued to in_progress. Zero affected rows means
// the caller lost the race (or redelivery of an already-handled id) and
// must return false without further work, per §4.4.
func (s *Store) AcquireForProcessing(ctx context.Context, uploadID int64) (bool, errors.E) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE upload_requests SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, StatusInProgress, uploadID, StatusQueued)
	if err != nil {
		return false, WithPgxError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetUploadRequest loads a single row by id.
func (s *Store) GetUploadRequest(ctx context.Context, uploadID int64) (*UploadRequest, errors.E) {
	var req UploadRequest
	var errPayload []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT r.id, r.batchid, r.userid, coalesce(u.username, ''), r.key, r.handler, r.filename,
			r.wikitext, r.sdc, r.labels,
			r.collection, r.copyright_override, r.status, coalesce(r.result, ''), r.error, coalesce(r.success, ''), r.access_token,
			coalesce(r.last_edited_by, ''), r.created_at, r.updated_at
		FROM upload_requests r
		LEFT JOIN users u ON u.userid = r.userid
		WHERE r.id = $1
	`, uploadID).Scan(
		&req.ID, &req.BatchID, &req.UserID, &req.Username, &req.Key, &req.Handler, &req.Filename, &req.Wikitext,
		&req.SDC, &req.Labels, &req.Collection, &req.CopyrightOverride, &req.Status, &req.Result,
		&errPayload, &req.Success, &req.AccessToken, &req.LastEditedBy, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.WithStack(ErrNotFound)
		}
		return nil, WithPgxError(err)
	}
	if len(errPayload) > 0 {
		var ep ErrorPayload
		if errE := x.Unmarshal(errPayload, &ep); errE != nil {
			return nil, errors.WithStack(errE)
		}
		req.Error = &ep
	}
	return &req, nil
}

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.Base("not found")

// UpdateOutcome is the set of fields an UpdateUploadStatus call may set,
// besides status itself.
type UpdateOutcome struct {
	Result       string
	Error        *ErrorPayload
	Success      string
	SDC          []byte // merged SDC, written back so re-reads reflect it
	LastEditedBy string // userid of the worker/editor attributed with this transition
}

// UpdateUploadStatus atomically transitions a row to status, setting the
// given outcome fields. On a terminal status it wipes access_token in the
// same statement, per invariant 2.
func (s *Store) UpdateUploadStatus(ctx context.Context, uploadID int64, status Status, outcome UpdateOutcome) errors.E {
	var errPayload []byte
	if outcome.Error != nil {
		b, errE := x.MarshalWithoutEscapeHTML(outcome.Error)
		if errE != nil {
			return errors.WithStack(errE)
		}
		errPayload = b
	}

	var lastEditedBy interface{}
	if outcome.LastEditedBy != "" {
		lastEditedBy = outcome.LastEditedBy
	}

	var accessTokenClause string
	if status.Terminal() {
		accessTokenClause = "access_token = NULL,"
	}

	_, err := s.Pool.Exec(ctx, `
		UPDATE upload_requests SET
			status = $1, `+accessTokenClause+`
			result = $2, error = $3, success = $4,
			sdc = coalesce($5, sdc),
			last_edited_by = coalesce($6, last_edited_by),
			updated_at = now()
		WHERE id = $7
	`, status, outcome.Result, nullableJSON(errPayload), outcome.Success, nullableJSON(outcome.SDC), lastEditedBy, uploadID)
	if err != nil {
		return WithPgxError(err)
	}
	return nil
}

// ListQueuedUploadIDs returns every upload id currently in status queued,
// oldest first, for the worker driver's drain pass.
func (s *Store) ListQueuedUploadIDs(ctx context.Context) ([]int64, errors.E) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM upload_requests WHERE status = $1 ORDER BY id
	`, StatusQueued)
	if err != nil {
		return nil, WithPgxError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, WithPgxError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, WithPgxError(err)
	}
	return ids, nil
}

// GetBatchesStats computes the per-status aggregate for each batch id in one
// GROUP BY query, filling zeros for statuses and batches with no rows.
func (s *Store) GetBatchesStats(ctx context.Context, batchIDs []int64) (map[int64]Stats, errors.E) {
	result := make(map[int64]Stats, len(batchIDs))
	for _, id := range batchIDs {
		result[id] = Stats{}
	}
	if len(batchIDs) == 0 {
		return result, nil
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT batchid, status, count(*)
		FROM upload_requests
		WHERE batchid = ANY($1)
		GROUP BY batchid, status
	`, batchIDs)
	if err != nil {
		return nil, WithPgxError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var batchID int64
		var status Status
		var count int
		if err := rows.Scan(&batchID, &status, &count); err != nil { //nolint:govet
			return nil, WithPgxError(err)
		}
		stats := result[batchID]
		applyStatusCount(&stats, status, count)
		stats.Total += count
		result[batchID] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, WithPgxError(err)
	}

	return result, nil
}

func applyStatusCount(stats *Stats, status Status, count int) {
	switch status {
	case StatusQueued:
		stats.Queued = count
	case StatusInProgress:
		stats.InProgress = count
	case StatusCompleted:
		stats.Completed = count
	case StatusFailed:
		stats.Failed = count
	case StatusDuplicate:
		stats.Duplicate = count
	}
}

// ListBatchUploadRequests returns every request in a batch, with
// last_edited_by resolved to the editor's username rather than their userid.
func (s *Store) ListBatchUploadRequests(ctx context.Context, batchID int64) ([]UploadRequest, errors.E) {
	rows, err := s.Pool.Query(ctx, `
		SELECT r.id, r.batchid, r.userid, r.key, r.handler, r.filename, r.wikitext, r.sdc,
			r.labels, r.collection, r.copyright_override, r.status, coalesce(r.result, ''), r.error,
			coalesce(r.success, ''), coalesce(u.username, ''), r.created_at, r.updated_at
		FROM upload_requests r
		LEFT JOIN users u ON u.userid = r.last_edited_by
		WHERE r.batchid = $1
		ORDER BY r.id
	`, batchID)
	if err != nil {
		return nil, WithPgxError(err)
	}
	defer rows.Close()

	var requests []UploadRequest
	for rows.Next() {
		var req UploadRequest
		var errPayload []byte
		if err := rows.Scan( //nolint:govet
			&req.ID, &req.BatchID, &req.UserID, &req.Key, &req.Handler, &req.Filename, &req.Wikitext,
			&req.SDC, &req.Labels, &req.Collection, &req.CopyrightOverride, &req.Status, &req.Result,
			&errPayload, &req.Success, &req.LastEditedBy, &req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, WithPgxError(err)
		}
		if len(errPayload) > 0 {
			var ep ErrorPayload
			if errE := x.Unmarshal(errPayload, &ep); errE != nil {
				return nil, errors.WithStack(errE)
			}
			req.Error = &ep
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, WithPgxError(err)
	}

	return requests, nil
}

// ListBatches returns a page of batches belonging to userid (or all users if
// userid is empty), newest first.
func (s *Store) ListBatches(ctx context.Context, userid string, limit, offset int) ([]Batch, int, errors.E) {
	var total int
	var err error
	if userid != "" {
		err = s.Pool.QueryRow(ctx, `SELECT count(*) FROM batches WHERE userid = $1`, userid).Scan(&total)
	} else {
		err = s.Pool.QueryRow(ctx, `SELECT count(*) FROM batches`).Scan(&total)
	}
	if err != nil {
		return nil, 0, WithPgxError(err)
	}

	var rows pgx.Rows
	if userid != "" {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, batch_uid, userid, created_at, updated_at FROM batches
			WHERE userid = $1 ORDER BY id DESC LIMIT $2 OFFSET $3
		`, userid, limit, offset)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, batch_uid, userid, created_at, updated_at FROM batches
			ORDER BY id DESC LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, 0, WithPgxError(err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.BatchUID, &b.UserID, &b.CreatedAt, &b.UpdatedAt); err != nil { //nolint:govet
			return nil, 0, WithPgxError(err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, WithPgxError(err)
	}

	return batches, total, nil
}
