// Package handler implements the Handler Registry (C2): per-source-service
// adapters that normalize collection listing, image metadata, and
// already-uploaded-page lookups into a common shape the worker and web
// layers consume without knowing which upstream service an upload came from.
package handler

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"
)

// Creator is the normalized author of a source image.
type Creator struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	ProfileURL string `json:"profileUrl"`
}

// Location is an optional geotag on a source image.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// MediaImage is the normalized record a Handler returns for one source
// image, regardless of which upstream service produced it.
type MediaImage struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	CapturedAt    *time.Time     `json:"capturedAt,omitempty"`
	Creator       Creator        `json:"creator"`
	Location      *Location      `json:"location,omitempty"`
	URLOriginal   string         `json:"urlOriginal"`
	ThumbnailURL  string         `json:"thumbnailUrl"`
	PreviewURL    string         `json:"previewUrl"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	CameraMake    string         `json:"cameraMake,omitempty"`
	CameraModel   string         `json:"cameraModel,omitempty"`
	CompassAngle  *float64       `json:"compassAngle,omitempty"`
	IsPano        bool           `json:"isPano,omitempty"`
	License       string         `json:"license,omitempty"`
	ExistingPages []ExistingPage `json:"existing,omitempty"`
}

// ExistingPage is a Commons page already associated with a source image id,
// surfaced so the uploader can avoid blind duplicate uploads.
type ExistingPage struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Handler is the per-source-service adapter. Implementations must be safe
// for concurrent use: a single instance is shared across all workers and
// requests for its tag.
type Handler interface {
	// Name is the short identifying tag the handler is registered under
	// (e.g. "mapillary", "flickr").
	Name() string

	// FetchCollection resolves a sequence/album/set identifier into its
	// member images, keyed by source image id.
	FetchCollection(ctx context.Context, input string) (map[string]MediaImage, errors.E)

	// FetchImageMetadata resolves a single source image id. input carries
	// whatever collection/sequence context the caller already had; it is
	// optional if the handler can resolve the image id on its own.
	FetchImageMetadata(ctx context.Context, imageID, input string) (MediaImage, errors.E)

	// FetchExistingPages looks up Commons pages already tied to the given
	// source image ids.
	FetchExistingPages(ctx context.Context, imageIDs []string) (map[string][]ExistingPage, errors.E)

	// BuildSDC constructs the proposed Structured Data on Commons statement
	// list for the given image.
	BuildSDC(image MediaImage) []mediawiki.Statement
}

// NotFoundError is returned when a requested image id is not part of its
// collection (e.g. it was deleted upstream, or fell outside the sequence
// page the handler fetched) — distinct from an UpstreamError so callers can
// tell "does not exist" from "could not ask".
type NotFoundError struct {
	ImageID string
}

func (e *NotFoundError) Error() string {
	return "image not found: " + e.ImageID
}

// UpstreamError wraps a failure talking to the source service (network
// error, non-2xx response, malformed payload).
type UpstreamError struct {
	Handler string
	Cause   error
}

func (e *UpstreamError) Error() string {
	return e.Handler + ": upstream error: " + e.Cause.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// CanceledError wraps context cancellation so callers can distinguish a
// deliberate shutdown from a genuine upstream failure.
type CanceledError struct {
	Cause error
}

func (e *CanceledError) Error() string {
	return "canceled: " + e.Cause.Error()
}

func (e *CanceledError) Unwrap() error {
	return e.Cause
}
