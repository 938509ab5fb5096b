package worker

import (
	"context"
	"net/http"
	"os"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"
	"gitlab.com/tozd/go/x"

	"gitlab.com/daxserver/curator/internal/handler"
	"gitlab.com/daxserver/curator/internal/pgdb"
	"gitlab.com/daxserver/curator/internal/sdc"
	"gitlab.com/daxserver/curator/internal/token"
)

// Worker processes one upload_requests row at a time, taking it from
// "queued" to a terminal status. A single Worker is shared across
// concurrently-processed jobs: all of its state is either immutable after
// construction or internally synchronized (HashLock).
type Worker struct {
	store      *pgdb.Store
	sealer     *token.Sealer
	tokenCache *token.Cache
	registry   *handler.Registry
	wikiClient WikiClient
	httpClient *http.Client
	hashLock   *HashLock
}

// New builds a Worker.
func New(store *pgdb.Store, sealer *token.Sealer, tokenCache *token.Cache, registry *handler.Registry, wikiClient WikiClient, httpClient *http.Client) *Worker {
	return &Worker{
		store:      store,
		sealer:     sealer,
		tokenCache: tokenCache,
		registry:   registry,
		wikiClient: wikiClient,
		httpClient: httpClient,
		hashLock:   NewHashLock(),
	}
}

// Process runs the full state machine for uploadID. It returns an error
// only for conditions the caller's retry driver should act on — a
// HashLockError in particular must not be treated as a terminal failure of
// the job: it means try again later, once the conflicting upload has
// released the hash.
func (w *Worker) Process(ctx context.Context, uploadID int64) error {
	leased, errE := w.store.AcquireForProcessing(ctx, uploadID)
	if errE != nil {
		return errE
	}
	if !leased {
		// Another worker already has this job (or it is no longer queued).
		return nil
	}

	row, errE := w.store.GetUploadRequest(ctx, uploadID)
	if errE != nil {
		return errE
	}

	pair, errE := w.unsealToken(uploadID, row.AccessToken)
	if errE != nil {
		return w.fail(ctx, uploadID, "token_error", errE.Error())
	}

	h, errE := w.registry.Get(row.Handler)
	if errE != nil {
		return w.fail(ctx, uploadID, "configuration_error", errE.Error())
	}

	image, errE := h.FetchImageMetadata(ctx, row.Key, row.Collection)
	if errE != nil {
		var notFound *handler.NotFoundError
		if errors.As(errE, &notFound) {
			return w.fail(ctx, uploadID, "not_found", notFound.Error())
		}
		var canceled *handler.CanceledError
		if errors.As(errE, &canceled) {
			return errE
		}
		return w.fail(ctx, uploadID, "upstream_error", errE.Error())
	}

	localPath, sum, err := downloadAndHash(ctx, w.httpClient, image.URLOriginal)
	if err != nil {
		return w.fail(ctx, uploadID, "download_error", err.Error())
	}
	defer os.Remove(localPath) //nolint:errcheck

	if !row.CopyrightOverride {
		dupes, err := w.wikiClient.FindDuplicates(ctx, sum)
		if err != nil {
			return w.fail(ctx, uploadID, "upstream_error", err.Error())
		}
		if len(dupes) > 0 {
			return w.markDuplicate(ctx, uploadID, dupes)
		}
	}

	if err := w.hashLock.Acquire(sum, uploadID); err != nil {
		return err
	}
	defer w.hashLock.Release(sum, uploadID)

	blacklisted, reason, err := w.wikiClient.CheckTitleBlacklisted(ctx, row.Filename)
	if err != nil {
		return w.fail(ctx, uploadID, "upstream_error", err.Error())
	}
	if blacklisted {
		return w.fail(ctx, uploadID, "title_blacklisted", reason)
	}

	proposed := h.BuildSDC(image)
	merged, errE := mergeWithExisting(row.SDC, proposed)
	if errE != nil {
		return errE
	}

	result, err := w.wikiClient.UploadFile(ctx, localPath, UploadParams{
		Filename:     row.Filename,
		SourceURL:    image.URLOriginal,
		Wikitext:     row.Wikitext,
		SDC:          merged,
		AccessToken:  pair.Key,
		AccessSecret: pair.Secret,
		Username:     row.Username,
		EditSummary:  "uploading via curator",
	})
	if err != nil {
		var lockErr *HashLockError
		if errors.As(err, &lockErr) {
			return err
		}
		return w.fail(ctx, uploadID, "upload_error", err.Error())
	}

	sdcJSON, errE := x.MarshalWithoutEscapeHTML(merged)
	if errE != nil {
		return errE
	}

	return w.store.UpdateUploadStatus(ctx, uploadID, pgdb.StatusCompleted, pgdb.UpdateOutcome{
		Result:       result.URL,
		Success:      "true",
		SDC:          sdcJSON,
		LastEditedBy: row.UserID,
	})
}

// unsealToken reads row's credential pair through the tamper-aware token
// cache (§6), keyed by uploadID: a retried job (processWithRetry) reuses the
// already-unsealed pair instead of re-running JWE decryption on every
// attempt, and a poisoned cache entry is transparently re-derived from the
// row's sealed bytes rather than surfacing as a failure.
func (w *Worker) unsealToken(uploadID int64, sealed []byte) (token.Pair, errors.E) {
	if pair, ok, errE := w.tokenCache.Get(uploadID); errE == nil && ok {
		return pair, nil
	}

	pair, errE := w.sealer.Unseal(sealed)
	if errE != nil {
		return token.Pair{}, errE
	}

	if errE := w.tokenCache.Set(uploadID, pair); errE != nil {
		return token.Pair{}, errE
	}

	return pair, nil
}

func (w *Worker) fail(ctx context.Context, uploadID int64, reason, message string) error {
	return w.store.UpdateUploadStatus(ctx, uploadID, pgdb.StatusFailed, pgdb.UpdateOutcome{
		Error: &pgdb.ErrorPayload{Type: reason, Message: message},
	})
}

// markDuplicate transitions uploadID to duplicate — distinct from failed and
// never retried — when the downloaded content hash matches one or more
// existing Commons pages and the submitter did not assert a copyright
// override.
func (w *Worker) markDuplicate(ctx context.Context, uploadID int64, dupes []DuplicatePage) error {
	links := make([]pgdb.ErrorLink, len(dupes))
	for i, d := range dupes {
		links[i] = pgdb.ErrorLink{Title: d.Title, URL: d.URL}
	}
	return w.store.UpdateUploadStatus(ctx, uploadID, pgdb.StatusDuplicate, pgdb.UpdateOutcome{
		Error: &pgdb.ErrorPayload{
			Type:    "duplicate",
			Message: "content hash matches an existing file on Commons",
			Links:   links,
		},
	})
}

// mergeWithExisting unmarshals row.SDC (if any) and non-destructively merges
// proposed into it, per the merge engine's rules.
func mergeWithExisting(existingJSON []byte, proposed []mediawiki.Statement) ([]mediawiki.Statement, errors.E) {
	if len(existingJSON) == 0 {
		return proposed, nil
	}
	var existing []mediawiki.Statement
	if errE := x.UnmarshalWithoutUnknownFields(existingJSON, &existing); errE != nil {
		return nil, errE
	}
	return sdc.Merge(existing, proposed), nil
}
