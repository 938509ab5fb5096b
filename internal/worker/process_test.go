package worker_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"

	"gitlab.com/daxserver/curator/internal/handler"
	"gitlab.com/daxserver/curator/internal/pgdb"
	"gitlab.com/daxserver/curator/internal/token"
	"gitlab.com/daxserver/curator/internal/worker"
)

func init() {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	os.Setenv(token.EnvKey, base64.StdEncoding.EncodeToString(key)) //nolint:errcheck
}

// testStore mirrors internal/pgdb's own test helper: it needs a real
// PostgreSQL instance, so it skips when POSTGRES is not set rather than
// faking the store's transactional guarantees.
func testStore(t *testing.T) *pgdb.Store {
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

// fakeHandler resolves any imageID to a fixed MediaImage pointing at a
// caller-provided URLOriginal, and proposes one fixed SDC statement.
type fakeHandler struct {
	image handler.MediaImage
}

func (f *fakeHandler) Name() string { return "fake" }
func (f *fakeHandler) FetchCollection(context.Context, string) (map[string]handler.MediaImage, errors.E) {
	return nil, nil
}

func (f *fakeHandler) FetchImageMetadata(context.Context, string, string) (handler.MediaImage, errors.E) {
	return f.image, nil
}

func (f *fakeHandler) FetchExistingPages(context.Context, []string) (map[string][]handler.ExistingPage, errors.E) {
	return map[string][]handler.ExistingPage{}, nil
}

func (f *fakeHandler) BuildSDC(handler.MediaImage) []mediawiki.Statement {
	return []mediawiki.Statement{{
		Type:     "statement",
		Rank:     mediawiki.Normal,
		MainSnak: mediawiki.Snak{SnakType: mediawiki.Value, Property: "P7482"},
	}}
}

// fakeWikiClient is a WikiClient whose every outcome is controlled by the
// test, with call counts protected by mu since Process may run concurrently
// in the acquisition-race test.
type fakeWikiClient struct {
	mu sync.Mutex

	blacklisted     bool
	blacklistReason string
	dupes           []worker.DuplicatePage
	uploadResult    *worker.UploadResult
	uploadErr       error

	findDuplicatesCalls int
	uploadCalls         int
	lastUploadParams    worker.UploadParams
}

func (c *fakeWikiClient) CheckTitleBlacklisted(context.Context, string) (bool, string, error) {
	return c.blacklisted, c.blacklistReason, nil
}

func (c *fakeWikiClient) FindDuplicates(context.Context, string) ([]worker.DuplicatePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findDuplicatesCalls++
	return c.dupes, nil
}

func (c *fakeWikiClient) UploadFile(_ context.Context, _ string, params worker.UploadParams) (*worker.UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadCalls++
	c.lastUploadParams = params
	if c.uploadErr != nil {
		return nil, c.uploadErr
	}
	return c.uploadResult, nil
}

// newTestWorker wires a fresh Worker over store, a single-handler registry
// serving imageURL, and client as the WikiClient.
func newTestWorker(t *testing.T, store *pgdb.Store, imageURL string, client worker.WikiClient) *worker.Worker {
	t.Helper()

	sealer, errE := token.NewSealer()
	require.NoError(t, errE)

	cache, errE := token.NewCache(sealer, 16)
	require.NoError(t, errE)

	registry, errE := handler.NewRegistry(&fakeHandler{image: handler.MediaImage{
		URLOriginal: imageURL,
	}})
	require.NoError(t, errE)

	return worker.New(store, sealer, cache, registry, client, http.DefaultClient)
}

func sealedToken(t *testing.T) []byte {
	t.Helper()
	sealer, errE := token.NewSealer()
	require.NoError(t, errE)
	sealed, errE := sealer.Seal(token.Pair{Key: "access-key", Secret: "access-secret"})
	require.NoError(t, errE)
	return sealed
}

func createTestUpload(t *testing.T, store *pgdb.Store, copyrightOverride bool) int64 {
	t.Helper()
	_, requests, errE := store.CreateUploadRequests(context.Background(), "u1", "Alice", "fake", []pgdb.Item{
		{Key: "img1", Filename: "Img1.jpg", CopyrightOverride: copyrightOverride},
	}, sealedToken(t))
	require.NoError(t, errE)
	return requests[0].ID
}

func TestProcessCompletesUpload(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	client := &fakeWikiClient{uploadResult: &worker.UploadResult{Title: "File:Img1.jpg", URL: "https://commons.wikimedia.org/wiki/File:Img1.jpg"}}
	w := newTestWorker(t, store, server.URL, client)

	uploadID := createTestUpload(t, store, false)

	err := w.Process(context.Background(), uploadID)
	require.NoError(t, err)

	row, errE := store.GetUploadRequest(context.Background(), uploadID)
	require.NoError(t, errE)
	assert.Equal(t, pgdb.StatusCompleted, row.Status)
	assert.Equal(t, "https://commons.wikimedia.org/wiki/File:Img1.jpg", row.Result)
	assert.Equal(t, "true", row.Success)

	assert.Equal(t, 1, client.uploadCalls)
	assert.Equal(t, "access-key", client.lastUploadParams.AccessToken)
	assert.Equal(t, "access-secret", client.lastUploadParams.AccessSecret)
}

// TestProcessMarksDuplicateWhenNoOverride is the literal §8 boundary
// scenario 2: a content hash matching an existing Commons page, with no
// copyright override, must stop the job at "duplicate" before any upload is
// attempted, carrying the existing page's title and file-page URL.
func TestProcessMarksDuplicateWhenNoOverride(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	client := &fakeWikiClient{
		dupes: []worker.DuplicatePage{{
			Title: "File:Existing.jpg",
			URL:   "https://commons.wikimedia.org/wiki/File:Existing.jpg",
		}},
	}
	w := newTestWorker(t, store, server.URL, client)

	uploadID := createTestUpload(t, store, false)

	err := w.Process(context.Background(), uploadID)
	require.NoError(t, err)

	row, errE := store.GetUploadRequest(context.Background(), uploadID)
	require.NoError(t, errE)
	assert.Equal(t, pgdb.StatusDuplicate, row.Status)
	require.NotNil(t, row.Error)
	assert.Equal(t, "duplicate", row.Error.Type)
	assert.Equal(t, []pgdb.ErrorLink{{Title: "File:Existing.jpg", URL: "https://commons.wikimedia.org/wiki/File:Existing.jpg"}}, row.Error.Links)

	assert.Zero(t, client.uploadCalls, "duplicate must be detected before any upload attempt")
}

// TestProcessSkipsDuplicateCheckWhenCopyrightOverride covers the
// copyright_override gate from §4.2/§4.4 step 8: a submitter who asserted
// an override must bypass FindDuplicates entirely, even when a matching
// page exists.
func TestProcessSkipsDuplicateCheckWhenCopyrightOverride(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	client := &fakeWikiClient{
		dupes:        []worker.DuplicatePage{{Title: "File:Existing.jpg", URL: "https://commons.wikimedia.org/wiki/File:Existing.jpg"}},
		uploadResult: &worker.UploadResult{Title: "File:Img1.jpg", URL: "https://commons.wikimedia.org/wiki/File:Img1.jpg"},
	}
	w := newTestWorker(t, store, server.URL, client)

	uploadID := createTestUpload(t, store, true)

	err := w.Process(context.Background(), uploadID)
	require.NoError(t, err)

	assert.Zero(t, client.findDuplicatesCalls, "copyright_override must skip FindDuplicates")
	assert.Equal(t, 1, client.uploadCalls)

	row, errE := store.GetUploadRequest(context.Background(), uploadID)
	require.NoError(t, errE)
	assert.Equal(t, pgdb.StatusCompleted, row.Status)
}

func TestProcessFailsOnBlacklistedTitle(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	client := &fakeWikiClient{blacklisted: true, blacklistReason: "matches a global title blacklist entry"}
	w := newTestWorker(t, store, server.URL, client)

	uploadID := createTestUpload(t, store, false)

	err := w.Process(context.Background(), uploadID)
	require.NoError(t, err)

	row, errE := store.GetUploadRequest(context.Background(), uploadID)
	require.NoError(t, errE)
	assert.Equal(t, pgdb.StatusFailed, row.Status)
	require.NotNil(t, row.Error)
	assert.Equal(t, "title_blacklisted", row.Error.Type)
	assert.Equal(t, "matches a global title blacklist entry", row.Error.Message)
	assert.Zero(t, client.uploadCalls)
}

// TestProcessAcquisitionRace is §8 boundary scenario 1: two workers racing
// the same queued row must have exactly one of them perform the actual
// work; the loser's AcquireForProcessing lease fails and it returns
// immediately without touching the WikiClient.
func TestProcessAcquisitionRace(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer server.Close()

	client := &fakeWikiClient{uploadResult: &worker.UploadResult{Title: "File:Img1.jpg", URL: "https://commons.wikimedia.org/wiki/File:Img1.jpg"}}
	w := newTestWorker(t, store, server.URL, client)

	uploadID := createTestUpload(t, store, false)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = w.Process(context.Background(), uploadID)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, 1, client.uploadCalls, "exactly one of the two racing workers must perform the upload")

	row, errE := store.GetUploadRequest(context.Background(), uploadID)
	require.NoError(t, errE)
	assert.True(t, row.Status.Terminal())
}
