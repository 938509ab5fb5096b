package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadAndHash(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("abc"))
	}))
	defer server.Close()

	path, sum, errE := downloadAndHash(context.Background(), server.Client(), server.URL)
	require.NoError(t, errE)
	defer os.Remove(path) //nolint:errcheck

	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", sum)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestDownloadAndHashNon200(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, _, errE := downloadAndHash(context.Background(), server.Client(), server.URL)
	require.Error(t, errE)
}
