package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Client is one browser's WebSocket connection: a read pump decoding
// incoming ClientMessages and a write pump serializing outgoing
// ServerMessages, the same split the teacher uses for its SSE/channel
// fan-out goroutines.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	dealer Dealer
	logger zerolog.Logger

	outbox chan []byte

	mu            sync.Mutex
	unsubscribers map[int64]func()
}

// Dealer resolves the business logic behind each ClientMessage: fetching
// collections, creating uploads, listing batches. It is implemented by the
// root service so the hub package itself stays free of HTTP/DB concerns
// beyond the pub/sub and wire protocol.
type Dealer interface {
	FetchImages(ctx context.Context, data FetchImagesData) (CollectionImagesData, errors.E)
	CreateUpload(ctx context.Context, data UploadData) ([]UploadCreatedItem, errors.E)
	FetchBatches(ctx context.Context, data FetchBatchesData) (BatchesListData, errors.E)
	FetchBatchUploads(ctx context.Context, batchID int64) ([]BatchUploadItem, errors.E)
}

// Serve upgrades req to a WebSocket connection and runs it until the
// connection closes or ctx is canceled.
func (h *Hub) Serve(ctx context.Context, w http.ResponseWriter, req *http.Request, dealer Dealer, logger zerolog.Logger) errors.E {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	client := &Client{
		conn:          conn,
		hub:           h,
		dealer:        dealer,
		logger:        logger,
		outbox:        make(chan []byte, sendBuffer),
		unsubscribers: map[int64]func(){},
	}

	go client.writePump()
	client.readPump(ctx)

	return nil
}

func (c *Client) send(msg []byte) {
	select {
	case c.outbox <- msg:
	default:
		// Subscriber too slow to drain; drop rather than block the hub.
	}
}

func (c *Client) subscribeBatch(batchID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.unsubscribers[batchID]; ok {
		return
	}
	c.unsubscribers[batchID] = c.hub.subscribe(batchID, c)
}

func (c *Client) forgetBatch(batchID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unsubscribers, batchID)
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, unsub := range c.unsubscribers {
		unsub()
	}
	c.unsubscribers = map[int64]func(){}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.unsubscribeAll()
		close(c.outbox)
		_ = c.conn.Close() //nolint:errcheck
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, errE := DecodeClientMessage(raw)
		if errE != nil {
			if out, encErr := encodeError(errE.Error()); encErr == nil {
				c.send(out)
			}
			continue
		}

		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg *ClientMessage) {
	var (
		out  []byte
		errE errors.E
	)

	switch msg.Type {
	case TypeFetchImages:
		data, err := c.dealer.FetchImages(ctx, *msg.FetchImages)
		if err == nil {
			out, errE = encodeCollectionImages(data)
		} else {
			errE = err
		}
	case TypeUpload:
		items, err := c.dealer.CreateUpload(ctx, *msg.Upload)
		if err == nil {
			out, errE = encodeUploadCreated(items)
		} else {
			errE = err
		}
	case TypeSubscribeBatch:
		c.subscribeBatch(msg.SubscribeBatch)
		out, errE = encodeSubscribed(msg.SubscribeBatch)
	case TypeFetchBatches:
		data, err := c.dealer.FetchBatches(ctx, *msg.FetchBatches)
		if err == nil {
			out, errE = encodeBatchesList(data)
		} else {
			errE = err
		}
	case TypeFetchBatchUploads:
		items, err := c.dealer.FetchBatchUploads(ctx, msg.FetchBatchUploads)
		if err == nil {
			out, errE = encodeBatchUploadsList(items)
		} else {
			errE = err
		}
	}

	if errE != nil {
		out, errE = encodeError(errE.Error())
		if errE != nil {
			c.logger.Error().Err(errE).Msg("failed to encode error message")
			return
		}
	}
	c.send(out)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() //nolint:errcheck
	}()

	for {
		select {
		case msg, ok := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
