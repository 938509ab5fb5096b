package worker

import (
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is the hash Commons itself indexes files by, not a security boundary
	"encoding/hex"
	"io"
	"net/http"
	"os"

	"gitlab.com/tozd/go/errors"
)

// downloadAndHash streams sourceURL to a temporary file, returning its path
// and hex-encoded SHA-1. The caller owns the returned file and must remove
// it once done.
func downloadAndHash(ctx context.Context, client *http.Client, sourceURL string) (path, sum string, errE errors.E) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", "", errors.WithStack(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", errors.WithStack(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("download %s: status %d", sourceURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "curator-upload-*")
	if err != nil {
		return "", "", errors.WithStack(err)
	}
	defer tmp.Close() //nolint:errcheck

	hasher := sha1.New() //nolint:gosec
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return "", "", errors.WithStack(err)
	}

	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), nil
}
