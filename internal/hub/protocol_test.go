package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/daxserver/curator/internal/pgdb"
)

func TestDecodeFetchImages(t *testing.T) {
	t.Parallel()

	msg, errE := DecodeClientMessage([]byte(`{"type":"FETCH_IMAGES","data":"Q42","handler":"mapillary"}`))
	require.NoError(t, errE)
	assert.Equal(t, TypeFetchImages, msg.Type)
	assert.Equal(t, "Q42", msg.FetchImages.Input)
	assert.Equal(t, "mapillary", msg.FetchImages.Handler)
}

func TestDecodeUpload(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"UPLOAD","data":{"items":[{"id":"1","input":"test.jpg","title":"Test Image","wikitext":"Some wikitext","copyright_override":true}],"handler":"mapillary"}}`)
	msg, errE := DecodeClientMessage(raw)
	require.NoError(t, errE)
	assert.Equal(t, TypeUpload, msg.Type)
	require.Len(t, msg.Upload.Items, 1)
	assert.Equal(t, "1", msg.Upload.Items[0].ID)
	assert.True(t, msg.Upload.Items[0].CopyrightOverride)
	assert.Equal(t, "mapillary", msg.Upload.Handler)
}

func TestDecodeSubscribeBatch(t *testing.T) {
	t.Parallel()

	msg, errE := DecodeClientMessage([]byte(`{"type":"SUBSCRIBE_BATCH","data":123}`))
	require.NoError(t, errE)
	assert.Equal(t, int64(123), msg.SubscribeBatch)
}

func TestDecodeFetchBatchesDefaults(t *testing.T) {
	t.Parallel()

	msg, errE := DecodeClientMessage([]byte(`{"type":"FETCH_BATCHES","data":{}}`))
	require.NoError(t, errE)
	assert.Equal(t, defaultFetchBatchesPage, msg.FetchBatches.Page)
	assert.Equal(t, defaultFetchBatchesLimit, msg.FetchBatches.Limit)
}

func TestDecodeFetchBatchUploads(t *testing.T) {
	t.Parallel()

	msg, errE := DecodeClientMessage([]byte(`{"type":"FETCH_BATCH_UPLOADS","data":456}`))
	require.NoError(t, errE)
	assert.Equal(t, int64(456), msg.FetchBatchUploads)
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	_, errE := DecodeClientMessage([]byte(`{"type":"INVALID_TYPE","data":{}}`))
	require.Error(t, errE)
}

func TestDeltaOnlyReturnsChangedRows(t *testing.T) {
	t.Parallel()

	seen := map[int64]snapshotKey{}
	rows := []pgdb.UploadRequest{
		{ID: 1, Status: pgdb.StatusQueued},
		{ID: 2, Status: pgdb.StatusQueued},
	}

	first := Delta(seen, rows)
	assert.Len(t, first, 2)

	rows[0].Status = pgdb.StatusCompleted
	rows[0].Result = "https://commons.wikimedia.org/wiki/File:Foo.jpg"
	second := Delta(seen, rows)
	require.Len(t, second, 1)
	assert.Equal(t, int64(1), second[0].ID)
	assert.Equal(t, string(pgdb.StatusCompleted), second[0].Status)

	assert.Empty(t, Delta(seen, rows))
}

func TestAllTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, AllTerminal(nil))
	assert.False(t, AllTerminal([]pgdb.UploadRequest{{Status: pgdb.StatusQueued}}))
	assert.True(t, AllTerminal([]pgdb.UploadRequest{
		{Status: pgdb.StatusCompleted},
		{Status: pgdb.StatusDuplicate},
	}))
}
