package token_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/daxserver/curator/internal/token"
)

func testSealer(t *testing.T) *token.Sealer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv(token.EnvKey, base64.StdEncoding.EncodeToString(key))

	sealer, errE := token.NewSealer()
	require.NoError(t, errE)
	return sealer
}

func TestSealRoundTrip(t *testing.T) {
	sealer := testSealer(t)
	pair := token.Pair{Key: "access-key", Secret: "access-secret"}

	sealed, errE := sealer.Seal(pair)
	require.NoError(t, errE)

	got, errE := sealer.Unseal(sealed)
	require.NoError(t, errE)
	assert.Equal(t, pair, got)
}

func TestUnsealTampered(t *testing.T) {
	sealer := testSealer(t)
	sealed, errE := sealer.Seal(token.Pair{Key: "k", Secret: "s"})
	require.NoError(t, errE)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-2] ^= 0xFF

	_, errE = sealer.Unseal(tampered)
	require.Error(t, errE)
	assert.ErrorIs(t, errE, token.ErrTampered)
}

func TestUnsealWrongKey(t *testing.T) {
	sealer := testSealer(t)
	sealed, errE := sealer.Seal(token.Pair{Key: "k", Secret: "s"})
	require.NoError(t, errE)

	otherKey := make([]byte, 32)
	for i := range otherKey {
		otherKey[i] = byte(255 - i)
	}
	t.Setenv(token.EnvKey, base64.StdEncoding.EncodeToString(otherKey))
	otherSealer, errE := token.NewSealer()
	require.NoError(t, errE)

	_, errE = otherSealer.Unseal(sealed)
	assert.ErrorIs(t, errE, token.ErrTampered)
}

func TestNewSealerMissingKey(t *testing.T) {
	t.Setenv(token.EnvKey, "")

	_, errE := token.NewSealer()
	require.Error(t, errE)
}
