package hub

import (
	"sync"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/pgdb"
)

// Hub multiplexes batch-id-keyed subscriber sets across every open
// connection, generalizing the teacher's coordinator.Coordinator
// Appended/Ended fan-out channels into a pub/sub registry keyed by batch
// rather than by a single in-process caller.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]map[*Client]struct{}
	seenByBatch map[int64]map[int64]snapshotKey
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{
		subscribers: map[int64]map[*Client]struct{}{},
		seenByBatch: map[int64]map[int64]snapshotKey{},
	}
}

// subscribe adds client to batchID's subscriber set and returns an unsubscribe func.
func (h *Hub) subscribe(batchID int64, client *Client) func() {
	h.mu.Lock()
	set, ok := h.subscribers[batchID]
	if !ok {
		set = map[*Client]struct{}{}
		h.subscribers[batchID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers[batchID], client)
		if len(h.subscribers[batchID]) == 0 {
			delete(h.subscribers, batchID)
		}
	}
}

// Broadcast sends msg to every client currently subscribed to batchID.
func (h *Hub) Broadcast(batchID int64, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.subscribers[batchID] {
		client.send(msg)
	}
}

// PublishUpdate sends an UPLOADS_UPDATE delta to batchID's subscribers.
func (h *Hub) PublishUpdate(batchID int64, items []UploadUpdateItem) errors.E {
	if len(items) == 0 {
		return nil
	}
	msg, errE := encodeUploadsUpdate(items)
	if errE != nil {
		return errE
	}
	h.Broadcast(batchID, msg)
	return nil
}

// PublishComplete sends UPLOADS_COMPLETE to batchID's subscribers and then
// unsubscribes every one of them: once a batch is fully terminal there is
// nothing further to stream, matching the original's "complete then close
// out the subscription" behavior.
func (h *Hub) PublishComplete(batchID int64) errors.E {
	msg, errE := encodeUploadsComplete(batchID)
	if errE != nil {
		return errE
	}
	h.Broadcast(batchID, msg)

	h.mu.Lock()
	set := h.subscribers[batchID]
	delete(h.subscribers, batchID)
	h.mu.Unlock()

	for client := range set {
		client.forgetBatch(batchID)
	}
	return nil
}

// snapshotKey identifies what a client has already seen for a batch, so
// the next poll can be reduced to only the rows that changed.
type snapshotKey struct {
	id     int64
	status pgdb.Status
	result string
}

// Delta compares a new set of rows against the previously-sent snapshot and
// returns only the UploadUpdateItems that changed (new row, status change,
// or result change). seen is mutated in place to the new snapshot.
func Delta(seen map[int64]snapshotKey, rows []pgdb.UploadRequest) []UploadUpdateItem {
	var items []UploadUpdateItem
	for _, row := range rows {
		key := snapshotKey{id: row.ID, status: row.Status, result: row.Result}
		if prev, ok := seen[row.ID]; ok && prev == key {
			continue
		}
		seen[row.ID] = key

		item := UploadUpdateItem{ID: row.ID, Status: string(row.Status), Result: row.Result}
		if row.Error != nil {
			item.Error = row.Error.Message
		}
		items = append(items, item)
	}
	return items
}

// ReportBatchState is C5's bridge into C6 (§2: "each transition is announced
// to C6, which forwards it to any subscriber"). Callers — the worker driver,
// after it processes a job belonging to batchID — pass the batch's full
// current row set; ReportBatchState diffs it against what this Hub has
// already announced for batchID, publishes only the changed rows, and once
// every row is terminal publishes UPLOADS_COMPLETE and forgets the batch.
func (h *Hub) ReportBatchState(batchID int64, rows []pgdb.UploadRequest) errors.E {
	h.mu.Lock()
	seen, ok := h.seenByBatch[batchID]
	if !ok {
		seen = map[int64]snapshotKey{}
		h.seenByBatch[batchID] = seen
	}
	h.mu.Unlock()

	items := Delta(seen, rows)
	if errE := h.PublishUpdate(batchID, items); errE != nil {
		return errE
	}

	if !AllTerminal(rows) {
		return nil
	}

	h.mu.Lock()
	delete(h.seenByBatch, batchID)
	h.mu.Unlock()

	return h.PublishComplete(batchID)
}

// AllTerminal reports whether every row in rows has reached a terminal
// status, the trigger for PublishComplete.
func AllTerminal(rows []pgdb.UploadRequest) bool {
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if !row.Status.Terminal() {
			return false
		}
	}
	return true
}
