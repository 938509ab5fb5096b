package worker

import "sync"

// HashLock prevents two uploads of byte-identical content from racing each
// other onto Commons within this process. A worker acquires the lock for a
// SHA-1 before uploading and releases it once the job reaches a terminal
// state; a second job with the same hash fails fast with HashLockError
// instead of duplicating the upload.
type HashLock struct {
	mu      sync.Mutex
	holders map[string]int64 // sha1 -> upload id holding the lock
}

// NewHashLock builds an empty HashLock.
func NewHashLock() *HashLock {
	return &HashLock{holders: make(map[string]int64)}
}

// Acquire claims sha1 for uploadID. It fails with HashLockError if another
// upload already holds it.
func (h *HashLock) Acquire(sha1 string, uploadID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if holder, ok := h.holders[sha1]; ok && holder != uploadID {
		return &HashLockError{Hash: sha1}
	}
	h.holders[sha1] = uploadID
	return nil
}

// Release frees sha1 if uploadID is its current holder.
func (h *HashLock) Release(sha1 string, uploadID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.holders[sha1] == uploadID {
		delete(h.holders, sha1)
	}
}
