package worker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/daxserver/curator/internal/worker"
)

func TestHashLockBlocksConflictingHolder(t *testing.T) {
	t.Parallel()

	lock := worker.NewHashLock()
	require.NoError(t, lock.Acquire("abc123", 1))

	err := lock.Acquire("abc123", 2)
	require.Error(t, err)
	var lockErr *worker.HashLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "abc123", lockErr.Hash)
}

func TestHashLockReacquireBySameHolder(t *testing.T) {
	t.Parallel()

	lock := worker.NewHashLock()
	require.NoError(t, lock.Acquire("abc123", 1))
	require.NoError(t, lock.Acquire("abc123", 1))
}

func TestHashLockReleaseAllowsNewHolder(t *testing.T) {
	t.Parallel()

	lock := worker.NewHashLock()
	require.NoError(t, lock.Acquire("abc123", 1))
	lock.Release("abc123", 1)
	require.NoError(t, lock.Acquire("abc123", 2))
}

func TestHashLockReleaseByNonHolderIsNoop(t *testing.T) {
	t.Parallel()

	lock := worker.NewHashLock()
	require.NoError(t, lock.Acquire("abc123", 1))
	lock.Release("abc123", 2) // not the holder, must not release 1's lock

	err := lock.Acquire("abc123", 2)
	require.Error(t, err)
}
