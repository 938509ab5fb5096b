package curator

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"

	"gitlab.com/daxserver/curator/internal/hub"
	"gitlab.com/daxserver/curator/internal/pgdb"
	"gitlab.com/daxserver/curator/internal/token"
)

// dealer adapts a Site's Store/Registry/Sealer into hub.Dealer, keeping the
// hub package itself free of HTTP/DB concerns. One dealer is built per
// WebSocket connection since it closes over that connection's Session.
type dealer struct {
	site *Site
	sess Session
}

var _ hub.Dealer = (*dealer)(nil)

// FetchImages resolves a collection through the handler registered for
// data.Handler and reports its member images keyed by source image id.
func (d *dealer) FetchImages(ctx context.Context, data hub.FetchImagesData) (hub.CollectionImagesData, errors.E) {
	h, errE := d.site.Registry.Get(data.Handler)
	if errE != nil {
		return hub.CollectionImagesData{}, errE
	}

	images, errE := h.FetchCollection(ctx, data.Input)
	if errE != nil {
		return hub.CollectionImagesData{}, errE
	}

	out := make(map[string]interface{}, len(images))
	for id, img := range images {
		out[id] = img
	}

	return hub.CollectionImagesData{Handler: data.Handler, Input: data.Input, Images: out}, nil
}

// CreateUpload seals the session's OAuth1 credentials and persists one
// upload_requests row per requested item, all within the same batch.
func (d *dealer) CreateUpload(ctx context.Context, data hub.UploadData) ([]hub.UploadCreatedItem, errors.E) {
	if _, errE := d.site.Registry.Get(data.Handler); errE != nil {
		return nil, errE
	}

	sealed, errE := d.site.Sealer.Seal(token.Pair{Key: d.sess.AccessToken, Secret: d.sess.AccessSecret})
	if errE != nil {
		return nil, errE
	}

	items := make([]pgdb.Item, 0, len(data.Items))
	for _, it := range data.Items {
		var labelsJSON []byte
		if len(it.Labels) > 0 {
			b, errE := x.MarshalWithoutEscapeHTML(it.Labels)
			if errE != nil {
				return nil, errE
			}
			labelsJSON = b
		}

		items = append(items, pgdb.Item{
			Key:               it.ID,
			Filename:          it.Title,
			Wikitext:          it.Wikitext,
			Labels:            labelsJSON,
			Collection:        it.Input,
			CopyrightOverride: it.CopyrightOverride,
		})
	}

	batch, rows, errE := d.site.Store.CreateUploadRequests(ctx, d.sess.UserID, d.sess.Username, data.Handler, items, sealed)
	if errE != nil {
		return nil, errE
	}

	if errE := pgdb.NotifyJobsQueued(ctx, d.site.DBPool); errE != nil {
		zerolog.Ctx(ctx).Warn().Err(errE).Msg("failed to notify workers of queued uploads")
	}

	created := make([]hub.UploadCreatedItem, len(rows))
	for i, row := range rows {
		created[i] = hub.UploadCreatedItem{ID: row.Key, Upload: row.ID, BatchID: batch.ID}
	}
	return created, nil
}

// FetchBatches lists data.UserID's batches (or every batch if empty),
// paginated, with each batch's per-status stats attached.
func (d *dealer) FetchBatches(ctx context.Context, data hub.FetchBatchesData) (hub.BatchesListData, errors.E) {
	offset := (data.Page - 1) * data.Limit
	batches, total, errE := d.site.Store.ListBatches(ctx, data.UserID, data.Limit, offset)
	if errE != nil {
		return hub.BatchesListData{}, errE
	}

	ids := make([]int64, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	stats, errE := d.site.Store.GetBatchesStats(ctx, ids)
	if errE != nil {
		return hub.BatchesListData{}, errE
	}

	out := make([]interface{}, len(batches))
	for i, b := range batches {
		out[i] = map[string]interface{}{
			"id":        b.ID,
			"batchUid":  b.BatchUID.String(),
			"userid":    b.UserID,
			"createdAt": b.CreatedAt,
			"stats":     stats[b.ID],
		}
	}

	return hub.BatchesListData{Page: data.Page, Limit: data.Limit, Total: total, Batches: out}, nil
}

// FetchBatchUploads lists every upload request in batchID.
func (d *dealer) FetchBatchUploads(ctx context.Context, batchID int64) ([]hub.BatchUploadItem, errors.E) {
	rows, errE := d.site.Store.ListBatchUploadRequests(ctx, batchID)
	if errE != nil {
		return nil, errE
	}

	items := make([]hub.BatchUploadItem, len(rows))
	for i, row := range rows {
		items[i] = hub.BatchUploadItem{ID: row.ID, Key: row.Key, Status: string(row.Status), Result: row.Result}
	}
	return items, nil
}
