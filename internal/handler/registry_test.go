package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"

	"gitlab.com/daxserver/curator/internal/handler"
)

type stubHandler struct{ name string }

func (s *stubHandler) Name() string { return s.name }
func (s *stubHandler) FetchCollection(context.Context, string) (map[string]handler.MediaImage, errors.E) {
	return nil, nil
}
func (s *stubHandler) FetchImageMetadata(context.Context, string, string) (handler.MediaImage, errors.E) {
	return handler.MediaImage{}, nil
}
func (s *stubHandler) FetchExistingPages(context.Context, []string) (map[string][]handler.ExistingPage, errors.E) {
	return nil, nil
}
func (s *stubHandler) BuildSDC(handler.MediaImage) []mediawiki.Statement { return nil }

func TestRegistryGetUnknownTag(t *testing.T) {
	t.Parallel()

	registry, errE := handler.NewRegistry()
	require.NoError(t, errE)

	_, errE = registry.Get("mapillary")
	require.Error(t, errE)
}

func TestRegistryDuplicateTag(t *testing.T) {
	t.Parallel()

	_, errE := handler.NewRegistry(&dupHandler{}, &dupHandler{})
	require.Error(t, errE)
}

type dupHandler struct{}

func (d *dupHandler) Name() string { return "dup" }
func (d *dupHandler) FetchCollection(context.Context, string) (map[string]handler.MediaImage, errors.E) {
	return nil, nil
}
func (d *dupHandler) FetchImageMetadata(context.Context, string, string) (handler.MediaImage, errors.E) {
	return handler.MediaImage{}, nil
}
func (d *dupHandler) FetchExistingPages(context.Context, []string) (map[string][]handler.ExistingPage, errors.E) {
	return nil, nil
}
func (d *dupHandler) BuildSDC(handler.MediaImage) []mediawiki.Statement { return nil }

func TestRegistryTags(t *testing.T) {
	t.Parallel()

	registry, errE := handler.NewRegistry(&stubHandler{name: "mapillary"}, &stubHandler{name: "flickr"})
	require.NoError(t, errE)

	assert.ElementsMatch(t, []string{"mapillary", "flickr"}, registry.Tags())
}
