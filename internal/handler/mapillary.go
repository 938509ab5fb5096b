package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"
	"golang.org/x/time/rate"

	"gitlab.com/daxserver/curator/internal/sdc"
)

const mapillaryGraphURL = "https://graph.mapillary.com/images"

const mapillaryFields = "captured_at,compass_angle,creator,geometry,height,is_pano,make,model," +
	"thumb_256_url,thumb_1024_url,thumb_original_url,width"

// mapillaryImage is the subset of the Mapillary Graph API image schema this
// handler consumes.
type mapillaryImage struct {
	ID           json.Number `json:"id"`
	CapturedAt   int64       `json:"captured_at"`
	CompassAngle *float64    `json:"compass_angle"`
	Creator      struct {
		ID       json.Number `json:"id"`
		Username string      `json:"username"`
	} `json:"creator"`
	Geometry struct {
		Coordinates [2]float64 `json:"coordinates"`
	} `json:"geometry"`
	Height           int    `json:"height"`
	Width            int    `json:"width"`
	IsPano           bool   `json:"is_pano"`
	Make             string `json:"make"`
	Model            string `json:"model"`
	Thumb256URL      string `json:"thumb_256_url"`
	Thumb1024URL     string `json:"thumb_1024_url"`
	ThumbOriginalURL string `json:"thumb_original_url"`
}

// MapillaryHandler adapts the Mapillary Graph API. A sequence id is fetched
// once and its images cached, since a batch typically references the same
// sequence many times.
type MapillaryHandler struct {
	client      *retryablehttp.Client
	apiToken    string
	limiter     *rate.Limiter
	sequenceLRU *lru.Cache[string, map[string]MediaImage]
}

// NewMapillaryHandler builds a MapillaryHandler. apiToken is the Mapillary
// Graph API access token; rps bounds outbound request rate.
func NewMapillaryHandler(apiToken string, rps float64) (*MapillaryHandler, errors.E) {
	cache, err := lru.New[string, map[string]MediaImage](128) //nolint:mnd
	if err != nil {
		return nil, errors.WithStack(err)
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 4      //nolint:mnd
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second //nolint:mnd
	client.Logger = nil

	return &MapillaryHandler{
		client:      client,
		apiToken:    apiToken,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		sequenceLRU: cache,
	}, nil
}

func (h *MapillaryHandler) Name() string { return "mapillary" }

// FetchCollection resolves a Mapillary sequence id into its member images,
// keyed by image id; the returned map carries no ordering.
func (h *MapillaryHandler) FetchCollection(ctx context.Context, sequenceID string) (map[string]MediaImage, errors.E) {
	if cached, ok := h.sequenceLRU.Get(sequenceID); ok {
		return cached, nil
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, errors.WithStack(&CanceledError{Cause: err})
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, mapillaryGraphURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	q := req.URL.Query()
	q.Set("access_token", h.apiToken)
	q.Set("sequence_ids", sequenceID)
	q.Set("fields", mapillaryFields)
	req.URL.RawQuery = q.Encode()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: fmt.Errorf("status %d", resp.StatusCode)})
	}

	var payload struct {
		Data []mapillaryImage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}

	sort.Slice(payload.Data, func(i, j int) bool { return payload.Data[i].CapturedAt < payload.Data[j].CapturedAt })

	images := make(map[string]MediaImage, len(payload.Data))
	for _, raw := range payload.Data {
		img := fromMapillary(raw)
		images[img.ID] = img
	}

	h.sequenceLRU.Add(sequenceID, images)
	return images, nil
}

// FetchImageMetadata resolves a single image id within a sequence.
// input is the sequence id; the image must appear in that sequence's
// listing or NotFoundError is returned, per the handler contract that a
// collection fetch is always the authoritative membership check.
func (h *MapillaryHandler) FetchImageMetadata(ctx context.Context, imageID, input string) (MediaImage, errors.E) {
	images, errE := h.FetchCollection(ctx, input)
	if errE != nil {
		return MediaImage{}, errE
	}
	img, ok := images[imageID]
	if !ok {
		return MediaImage{}, errors.WithStack(&NotFoundError{ImageID: imageID})
	}
	return img, nil
}

// FetchExistingPages is not backed by a Mapillary API: Commons page lookups
// for already-uploaded Mapillary photos are done by SDC statement search,
// which is out of scope for this handler and left to the caller (an empty
// result means "none known", not "none exist").
func (h *MapillaryHandler) FetchExistingPages(_ context.Context, imageIDs []string) (map[string][]ExistingPage, errors.E) {
	return make(map[string][]ExistingPage, len(imageIDs)), nil
}

func (h *MapillaryHandler) BuildSDC(image MediaImage) []mediawiki.Statement {
	return sdc.BuildMapillarySDC(image.ID, sdc.SourceInfo{
		AuthorUsername: image.Creator.Username,
		AuthorURL:      image.Creator.ProfileURL,
		CapturedAt:     image.CapturedAt,
	})
}

func fromMapillary(raw mapillaryImage) MediaImage {
	capturedAt := time.UnixMilli(raw.CapturedAt).UTC()
	date := capturedAt.Format("2006-01-02")

	return MediaImage{
		ID:    raw.ID.String(),
		Title: fmt.Sprintf("Photo from Mapillary %s (%s).jpg", date, raw.ID.String()),
		CapturedAt: &capturedAt,
		Creator: Creator{
			ID:         raw.Creator.ID.String(),
			Username:   raw.Creator.Username,
			ProfileURL: "https://www.mapillary.com/app/user/" + raw.Creator.Username,
		},
		Location: &Location{
			Latitude:  raw.Geometry.Coordinates[1],
			Longitude: raw.Geometry.Coordinates[0],
		},
		URLOriginal:  raw.ThumbOriginalURL,
		ThumbnailURL: raw.Thumb256URL,
		PreviewURL:   raw.Thumb1024URL,
		Width:        raw.Width,
		Height:       raw.Height,
		CameraMake:   raw.Make,
		CameraModel:  raw.Model,
		CompassAngle: raw.CompassAngle,
		IsPano:       raw.IsPano,
	}
}
