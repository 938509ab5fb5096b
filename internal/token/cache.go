package token

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"gitlab.com/tozd/go/errors"
)

// Backend is the minimal cache backend the tamper-integrity middleware
// wraps: a keyed store whose Get may fail with ErrTampered when the stored
// value does not authenticate (e.g. it was sealed under a retired key, or
// corrupted at rest).
type Backend interface {
	Get(id int64) (Pair, bool, errors.E)
	Set(id int64, pair Pair) errors.E
	Delete(id int64) errors.E
}

// lruBackend is the concrete Backend: an in-memory LRU of sealed tokens.
type lruBackend struct {
	lru    *lru.Cache[int64, []byte]
	sealer *Sealer
}

func newLRUBackend(sealer *Sealer, size int) (*lruBackend, errors.E) {
	l, err := lru.New[int64, []byte](size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &lruBackend{lru: l, sealer: sealer}, nil
}

func (b *lruBackend) Get(id int64) (Pair, bool, errors.E) {
	sealed, found := b.lru.Get(id)
	if !found {
		return Pair{}, false, nil
	}
	pair, errE := b.sealer.Unseal(sealed)
	if errE != nil {
		return Pair{}, false, errE
	}
	return pair, true, nil
}

func (b *lruBackend) Set(id int64, pair Pair) errors.E {
	sealed, errE := b.sealer.Seal(pair)
	if errE != nil {
		return errE
	}
	b.lru.Add(id, sealed)
	return nil
}

func (b *lruBackend) Delete(id int64) errors.E {
	b.lru.Remove(id)
	return nil
}

// Cache is the tamper-aware cache integrity middleware from §6: a GET whose
// backend value fails authentication is treated as a miss — the poisoned
// entry is evicted and the caller sees "not found", never the error. A SET
// or DELETE that fails authentication (or otherwise errors) propagates the
// error unchanged; eviction is only attempted for GET.
//
// If the eviction Delete itself fails, that error propagates instead of the
// original tamper error, per §8 scenario 6 ("delete is not called" only
// applies to the non-GET path — on GET, delete is attempted and its own
// failure is what the caller learns about).
type Cache struct {
	backend   Backend
	missCount atomic.Uint64
}

// NewCache builds the tamper-aware cache over an in-memory LRU of size
// entries, sealing/unsealing values with sealer.
func NewCache(sealer *Sealer, size int) (*Cache, errors.E) {
	backend, errE := newLRUBackend(sealer, size)
	if errE != nil {
		return nil, errE
	}
	return &Cache{backend: backend}, nil
}

// NewCacheWithBackend builds the tamper-aware middleware over an arbitrary
// Backend, primarily so tests can substitute a backend that deterministically
// reports ErrTampered.
func NewCacheWithBackend(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// MissCount returns and resets the ordinary-miss counter (tamper-evictions
// are not ordinary misses and are not counted here).
func (c *Cache) MissCount() uint64 {
	return c.missCount.Swap(0)
}

// Get returns the Pair cached for id. ok is false for both an ordinary miss
// and a tamper-detected entry.
func (c *Cache) Get(id int64) (Pair, bool, errors.E) {
	pair, ok, errE := c.backend.Get(id)
	if errE == nil {
		if !ok {
			c.missCount.Add(1)
		}
		return pair, ok, nil
	}

	if !errors.Is(errE, ErrTampered) {
		return Pair{}, false, errE
	}

	if delErrE := c.backend.Delete(id); delErrE != nil {
		return Pair{}, false, delErrE
	}
	return Pair{}, false, nil
}

// Set seals and stores pair for id. Errors propagate unchanged.
func (c *Cache) Set(id int64, pair Pair) errors.E {
	return c.backend.Set(id, pair)
}

// Delete removes id from the cache. Errors propagate unchanged.
func (c *Cache) Delete(id int64) errors.E {
	return c.backend.Delete(id)
}
