package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"
	"golang.org/x/time/rate"

	"gitlab.com/daxserver/curator/internal/sdc"
)

const flickrRESTURL = "https://api.flickr.com/services/rest/"

// FlickrHandler adapts the Flickr REST API. Unlike Mapillary there is no
// sequence grouping: input is always a single photo id, and FetchCollection
// fetches exactly one image keyed by its own id.
type FlickrHandler struct {
	client  *retryablehttp.Client
	apiKey  string
	limiter *rate.Limiter
}

// NewFlickrHandler builds a FlickrHandler. apiKey is the Flickr API key;
// rps bounds outbound request rate.
func NewFlickrHandler(apiKey string, rps float64) *FlickrHandler {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 4 //nolint:mnd
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 30 * time.Second //nolint:mnd
	client.Logger = nil

	return &FlickrHandler{
		client:  client,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (h *FlickrHandler) Name() string { return "flickr" }

type flickrPhotoInfoResponse struct {
	Stat  string `json:"stat"`
	Photo struct {
		ID    string `json:"id"`
		Owner struct {
			NSID     string `json:"nsid"`
			Username string `json:"username"`
		} `json:"owner"`
		Title struct {
			Content string `json:"_content"`
		} `json:"title"`
		Description struct {
			Content string `json:"_content"`
		} `json:"description"`
		Dates struct {
			Taken string `json:"taken"`
		} `json:"dates"`
		Location *struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"location"`
		URLs struct {
			URL []struct {
				Content string `json:"_content"`
			} `json:"url"`
		} `json:"urls"`
	} `json:"photo"`
}

type flickrSizesResponse struct {
	Stat   string `json:"stat"`
	Sizes struct {
		Size []struct {
			Label  string `json:"label"`
			Source string `json:"source"`
			Width  string `json:"width"`
			Height string `json:"height"`
		} `json:"size"`
	} `json:"sizes"`
}

// FetchCollection for Flickr treats input as a single photo id: there is no
// album grouping in this handler, so the "collection" is always one image.
func (h *FlickrHandler) FetchCollection(ctx context.Context, photoID string) (map[string]MediaImage, errors.E) {
	img, errE := h.FetchImageMetadata(ctx, photoID, "")
	if errE != nil {
		return nil, errE
	}
	return map[string]MediaImage{img.ID: img}, nil
}

func (h *FlickrHandler) FetchImageMetadata(ctx context.Context, imageID, _ string) (MediaImage, errors.E) {
	info, errE := h.call(ctx, "flickr.photos.getInfo", map[string]string{"photo_id": imageID})
	if errE != nil {
		return MediaImage{}, errE
	}
	var infoResp flickrPhotoInfoResponse
	if err := json.Unmarshal(info, &infoResp); err != nil {
		return MediaImage{}, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}
	if infoResp.Stat != "ok" {
		return MediaImage{}, errors.WithStack(&NotFoundError{ImageID: imageID})
	}

	sizes, errE := h.call(ctx, "flickr.photos.getSizes", map[string]string{"photo_id": imageID})
	if errE != nil {
		return MediaImage{}, errE
	}
	var sizesResp flickrSizesResponse
	if err := json.Unmarshal(sizes, &sizesResp); err != nil {
		return MediaImage{}, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}

	return fromFlickr(infoResp, sizesResp), nil
}

func (h *FlickrHandler) FetchExistingPages(_ context.Context, imageIDs []string) (map[string][]ExistingPage, errors.E) {
	return make(map[string][]ExistingPage, len(imageIDs)), nil
}

func (h *FlickrHandler) BuildSDC(image MediaImage) []mediawiki.Statement {
	return sdc.BuildFlickrSDC(image.ID, image.Creator.ID, sdc.SourceInfo{
		AuthorUsername: image.Creator.Username,
		AuthorURL:      image.Creator.ProfileURL,
		CapturedAt:     image.CapturedAt,
	})
}

func (h *FlickrHandler) call(ctx context.Context, method string, params map[string]string) ([]byte, errors.E) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, errors.WithStack(&CanceledError{Cause: err})
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, flickrRESTURL, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	q := req.URL.Query()
	q.Set("method", method)
	q.Set("api_key", h.apiKey)
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: fmt.Errorf("status %d", resp.StatusCode)})
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(&UpstreamError{Handler: h.Name(), Cause: err})
	}
	return buf, nil
}

func fromFlickr(info flickrPhotoInfoResponse, sizes flickrSizesResponse) MediaImage {
	img := MediaImage{
		ID:          info.Photo.ID,
		Title:       info.Photo.Title.Content,
		Description: info.Photo.Description.Content,
		Creator: Creator{
			ID:         info.Photo.Owner.NSID,
			Username:   info.Photo.Owner.Username,
			ProfileURL: "https://www.flickr.com/people/" + info.Photo.Owner.NSID,
		},
	}

	if info.Photo.Dates.Taken != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", info.Photo.Dates.Taken); err == nil {
			img.CapturedAt = &t
		}
	}

	for _, size := range sizes.Sizes.Size {
		switch size.Label {
		case "Original":
			img.URLOriginal = size.Source
		case "Square":
			img.ThumbnailURL = size.Source
		case "Large":
			img.PreviewURL = size.Source
		}
	}

	return img
}
