package token_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/daxserver/curator/internal/token"
)

func TestCacheGetMiss(t *testing.T) {
	sealer := testSealer(t)
	cache, errE := token.NewCache(sealer, 16)
	require.NoError(t, errE)

	_, ok, errE := cache.Get(1)
	require.NoError(t, errE)
	assert.False(t, ok)
	assert.EqualValues(t, 1, cache.MissCount())
}

// fakeBackend lets tests control exactly when Get/Set/Delete fail, to cover
// §8 boundary scenario 6 without depending on JWE internals.
type fakeBackend struct {
	getErr    errors.E
	setErr    errors.E
	deleteErr errors.E
	deleted   []int64
}

func (b *fakeBackend) Get(int64) (token.Pair, bool, errors.E) { return token.Pair{}, false, b.getErr }
func (b *fakeBackend) Set(int64, token.Pair) errors.E         { return b.setErr }
func (b *fakeBackend) Delete(id int64) errors.E {
	b.deleted = append(b.deleted, id)
	return b.deleteErr
}

func TestCacheTamperedGetIsEvictedAndTreatedAsMiss(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{getErr: errors.WithStack(token.ErrTampered)}
	cache := token.NewCacheWithBackend(backend)

	_, ok, errE := cache.Get(7)
	require.NoError(t, errE)
	assert.False(t, ok)
	assert.Equal(t, []int64{7}, backend.deleted, "a tampered GET must evict the poisoned entry")
}

func TestCacheTamperedSetPropagates(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{setErr: errors.WithStack(token.ErrTampered)}
	cache := token.NewCacheWithBackend(backend)

	errE := cache.Set(7, token.Pair{Key: "k", Secret: "s"})
	assert.ErrorIs(t, errE, token.ErrTampered)
	assert.Empty(t, backend.deleted, "a non-GET tamper error must propagate without triggering eviction")
}

func TestCacheRoundTrip(t *testing.T) {
	sealer := testSealer(t)
	cache, errE := token.NewCache(sealer, 16)
	require.NoError(t, errE)

	pair := token.Pair{Key: "k", Secret: "s"}
	require.NoError(t, cache.Set(42, pair))

	got, ok, errE := cache.Get(42)
	require.NoError(t, errE)
	assert.True(t, ok)
	assert.Equal(t, pair, got)
}
