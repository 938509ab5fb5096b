// Package hub implements the Live Progress Hub (C6): a per-process pub/sub
// registry of batch subscribers, each reachable over a single WebSocket
// connection at WSChannelAddress, exchanging the tagged-union envelopes
// defined in this file.
package hub

import (
	"encoding/json"

	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// WSChannelAddress is the HTTP path the WebSocket upgrade is served at.
const WSChannelAddress = "/ws"

// Client message discriminators (received from the browser).
const (
	TypeFetchImages       = "FETCH_IMAGES"
	TypeUpload            = "UPLOAD"
	TypeSubscribeBatch    = "SUBSCRIBE_BATCH"
	TypeFetchBatches      = "FETCH_BATCHES"
	TypeFetchBatchUploads = "FETCH_BATCH_UPLOADS"
)

// Server message discriminators (sent to the browser).
const (
	TypeError             = "ERROR"
	TypeCollectionImages  = "COLLECTION_IMAGES"
	TypeUploadCreated     = "UPLOAD_CREATED"
	TypeBatchesList       = "BATCHES_LIST"
	TypeBatchUploadsList  = "BATCH_UPLOADS_LIST"
	TypeSubscribed        = "SUBSCRIBED"
	TypeUploadsUpdate     = "UPLOADS_UPDATE"
	TypeUploadsComplete   = "UPLOADS_COMPLETE"
)

// envelope is the wire shape shared by every client and server message: a
// discriminator plus an arbitrary payload, decoded/encoded in two stages so
// unknown-but-well-formed discriminators can be reported as an ERROR
// message instead of closing the connection.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ClientMessage is a decoded incoming message, dispatched on Type.
type ClientMessage struct {
	Type string

	FetchImages       *FetchImagesData
	Upload            *UploadData
	SubscribeBatch    int64
	FetchBatches      *FetchBatchesData
	FetchBatchUploads int64
}

// FetchImagesData requests a handler's collection listing.
type FetchImagesData struct {
	Input   string
	Handler string
}

// fetchImagesWire is FetchImagesData's actual wire shape: "data" carries the
// collection id directly (not nested), "handler" is a sibling field of
// "type"/"data" on the envelope itself.
type fetchImagesWire struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Handler string `json:"handler"`
}

// UploadItem is one requested upload within an UPLOAD message.
type UploadItem struct {
	ID                string            `json:"id"`
	Input             string            `json:"input"`
	Title             string            `json:"title"`
	Wikitext          string            `json:"wikitext"`
	CopyrightOverride bool              `json:"copyright_override"`
	Labels            map[string]string `json:"labels,omitempty"`
}

// UploadData is the payload of an UPLOAD message.
type UploadData struct {
	Items   []UploadItem `json:"items"`
	Handler string       `json:"handler"`
}

// FetchBatchesData is the payload of a FETCH_BATCHES message. Page and Limit
// default to 1 and 100 respectively when the client omits them, matching
// the original's pydantic field defaults.
type FetchBatchesData struct {
	Page   int    `json:"page"`
	Limit  int    `json:"limit"`
	UserID string `json:"userid,omitempty"`
}

const (
	defaultFetchBatchesPage  = 1
	defaultFetchBatchesLimit = 100
)

// DecodeClientMessage parses one incoming WebSocket text frame. An unknown
// Type is returned as an error; the caller replies with an ERROR server
// message and keeps the connection open, per §4.6/§7.
func DecodeClientMessage(raw []byte) (*ClientMessage, errors.E) {
	var env envelope
	if errE := x.Unmarshal(raw, &env); errE != nil {
		return nil, errE
	}
	// FETCH_IMAGES carries a sibling "handler" field and is strictly decoded
	// through fetchImagesWire below; every other type is strict here.
	if env.Type != TypeFetchImages {
		if errE := x.UnmarshalWithoutUnknownFields(raw, &env); errE != nil {
			return nil, errE
		}
	}

	msg := &ClientMessage{Type: env.Type}

	switch env.Type {
	case TypeFetchImages:
		var wire fetchImagesWire
		if errE := x.UnmarshalWithoutUnknownFields(raw, &wire); errE != nil {
			return nil, errE
		}
		msg.FetchImages = &FetchImagesData{Input: wire.Data, Handler: wire.Handler}
	case TypeUpload:
		var data UploadData
		if errE := x.UnmarshalWithoutUnknownFields(env.Data, &data); errE != nil {
			return nil, errE
		}
		msg.Upload = &data
	case TypeSubscribeBatch:
		if errE := x.UnmarshalWithoutUnknownFields(env.Data, &msg.SubscribeBatch); errE != nil {
			return nil, errE
		}
	case TypeFetchBatches:
		data := FetchBatchesData{Page: defaultFetchBatchesPage, Limit: defaultFetchBatchesLimit}
		if len(env.Data) > 0 && string(env.Data) != "{}" {
			if errE := x.UnmarshalWithoutUnknownFields(env.Data, &data); errE != nil {
				return nil, errE
			}
			if data.Page == 0 {
				data.Page = defaultFetchBatchesPage
			}
			if data.Limit == 0 {
				data.Limit = defaultFetchBatchesLimit
			}
		}
		msg.FetchBatches = &data
	case TypeFetchBatchUploads:
		if errE := x.UnmarshalWithoutUnknownFields(env.Data, &msg.FetchBatchUploads); errE != nil {
			return nil, errE
		}
	default:
		return nil, errors.Errorf("unknown message type %q", env.Type)
	}

	return msg, nil
}

// CollectionImagesData is COLLECTION_IMAGES's payload: the handler's
// listing for one collection input, keyed by source image id.
type CollectionImagesData struct {
	Handler string                 `json:"handler"`
	Input   string                 `json:"input"`
	Images  map[string]interface{} `json:"images"`
}

// UploadCreatedItem reports one newly-enqueued upload request.
type UploadCreatedItem struct {
	ID      string `json:"id"`
	Upload  int64  `json:"uploadId"`
	BatchID int64  `json:"batchId"`
}

// BatchesListData is BATCHES_LIST's payload.
type BatchesListData struct {
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Total   int           `json:"total"`
	Batches []interface{} `json:"batches"`
}

// BatchUploadItem is one row in a BATCH_UPLOADS_LIST message.
type BatchUploadItem struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// UploadUpdateItem is one row in an UPLOADS_UPDATE delta message: a row
// whose status or result changed since the last update for this batch,
// carrying its current id, status, result and error.
type UploadUpdateItem struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// encode builds the envelope for a server message and serializes it as JSON
// without HTML escaping, matching the teacher's x.MarshalWithoutEscapeHTML
// convention for all wire payloads.
func encode(msgType string, data interface{}) ([]byte, errors.E) {
	payload, errE := x.MarshalWithoutEscapeHTML(data)
	if errE != nil {
		return nil, errE
	}
	return x.MarshalWithoutEscapeHTML(envelope{Type: msgType, Data: payload})
}

func encodeError(message string) ([]byte, errors.E) {
	return encode(TypeError, message)
}

func encodeCollectionImages(data CollectionImagesData) ([]byte, errors.E) {
	return encode(TypeCollectionImages, data)
}

func encodeUploadCreated(items []UploadCreatedItem) ([]byte, errors.E) {
	return encode(TypeUploadCreated, items)
}

func encodeBatchesList(data BatchesListData) ([]byte, errors.E) {
	return encode(TypeBatchesList, data)
}

func encodeBatchUploadsList(items []BatchUploadItem) ([]byte, errors.E) {
	return encode(TypeBatchUploadsList, items)
}

func encodeSubscribed(batchID int64) ([]byte, errors.E) {
	return encode(TypeSubscribed, batchID)
}

func encodeUploadsUpdate(items []UploadUpdateItem) ([]byte, errors.E) {
	return encode(TypeUploadsUpdate, items)
}

func encodeUploadsComplete(batchID int64) ([]byte, errors.E) {
	return encode(TypeUploadsComplete, batchID)
}
