package pgdb_test

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/daxserver/curator/internal/pgdb"
)

func testPool(t *testing.T) *pgdb.Store {
	t.Helper()
	if os.Getenv("POSTGRES") == "" {
		t.Skip("POSTGRES is not available")
	}

	ctx := context.Background()
	pool, errE := pgdb.InitPool(ctx, os.Getenv("POSTGRES"), zerolog.Nop())
	require.NoError(t, errE)

	errE = pgdb.Migrate(ctx, os.Getenv("POSTGRES"), "up")
	require.NoError(t, errE)

	return pgdb.NewStore(pool)
}

func TestCreateUploadRequestsAndAcquire(t *testing.T) {
	t.Parallel()

	store := testPool(t)
	ctx := context.Background()

	batch, requests, errE := store.CreateUploadRequests(ctx, "u1", "Alice", "mapillary", []pgdb.Item{
		{Key: "img1", Filename: "Img1.jpg"},
		{Key: "img2", Filename: "Img2.jpg"},
	}, []byte("sealed-token"))
	require.NoError(t, errE)
	assert.Len(t, requests, 2)
	assert.Equal(t, pgdb.StatusQueued, requests[0].Status)

	stats, errE := store.GetBatchesStats(ctx, []int64{batch.ID})
	require.NoError(t, errE)
	assert.Equal(t, pgdb.Stats{Total: 2, Queued: 2}, stats[batch.ID])

	// Exactly-once lease: a second acquisition of the same row must lose the race.
	ok, errE := store.AcquireForProcessing(ctx, requests[0].ID)
	require.NoError(t, errE)
	assert.True(t, ok)

	ok, errE = store.AcquireForProcessing(ctx, requests[0].ID)
	require.NoError(t, errE)
	assert.False(t, ok)

	errE = store.UpdateUploadStatus(ctx, requests[0].ID, pgdb.StatusCompleted, pgdb.UpdateOutcome{
		Success: "https://commons.wikimedia.org/wiki/File:Img1.jpg",
	})
	require.NoError(t, errE)

	got, errE := store.GetUploadRequest(ctx, requests[0].ID)
	require.NoError(t, errE)
	assert.Equal(t, pgdb.StatusCompleted, got.Status)
	assert.Empty(t, got.AccessToken, "access token must be wiped on terminal status")

	stats, errE = store.GetBatchesStats(ctx, []int64{batch.ID})
	require.NoError(t, errE)
	assert.Equal(t, pgdb.Stats{Total: 2, Queued: 1, Completed: 1}, stats[batch.ID])
}

func TestGetBatchesStatsMissingBatch(t *testing.T) {
	t.Parallel()

	store := testPool(t)
	ctx := context.Background()

	stats, errE := store.GetBatchesStats(ctx, []int64{999999})
	require.NoError(t, errE)
	assert.Equal(t, pgdb.Stats{}, stats[999999])
}

func TestPresetsDefaultUniqueness(t *testing.T) {
	t.Parallel()

	store := testPool(t)
	ctx := context.Background()

	errE := store.UpsertUser(ctx, "preset-user", "Preset User")
	require.NoError(t, errE)

	p1, errE := store.UpsertPreset(ctx, "preset-user", "mapillary", "a", []byte(`{}`))
	require.NoError(t, errE)
	p2, errE := store.UpsertPreset(ctx, "preset-user", "mapillary", "b", []byte(`{}`))
	require.NoError(t, errE)

	require.NoError(t, store.SetDefaultPreset(ctx, "preset-user", "mapillary", p1.ID))
	require.NoError(t, store.SetDefaultPreset(ctx, "preset-user", "mapillary", p2.ID))

	presets, errE := store.GetPresets(ctx, "preset-user", "mapillary")
	require.NoError(t, errE)
	defaults := 0
	for _, p := range presets {
		if p.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults, "at most one default preset per (userid, handler)")
}

