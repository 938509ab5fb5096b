// Package wikiclient implements worker.WikiClient against the MediaWiki
// action API: OAuth1-signed multipart uploads to Wikimedia Commons and a
// titleblacklist check before committing to one, grounded on the retryable
// HTTP client construction the teacher uses for its own outbound Commons
// traffic (cmd/wikipedia/commons.go). The MediaWiki client's own behavior
// beyond the WikiClient contract is explicitly out of scope, so signing and
// request-building here are kept to the minimum the action API requires,
// not a full pywikibot-equivalent client.
package wikiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/mediawiki"
	"gitlab.com/tozd/go/x"

	"gitlab.com/daxserver/curator/internal/worker"
)

// Env variables holding the OAuth1 consumer identity for the bot
// application itself (not a per-user credential, hence read directly from
// the environment rather than threaded through Config, the same convention
// internal/token.NewSealer uses for TOKEN_ENCRYPTION_KEY).
const (
	EnvConsumerKey    = "CURATOR_OAUTH_CONSUMER_KEY"
	EnvConsumerSecret = "CURATOR_OAUTH_CONSUMER_SECRET"
)

const (
	actionAPIURL   = "https://commons.wikimedia.org/w/api.php"
	clientRetryMax = 3
)

// Client is a worker.WikiClient backed by the real MediaWiki action API.
// One Client is shared across all workers; per-request credentials (the
// unsealed OAuth1 key/secret) are supplied per call via worker.UploadParams.
type Client struct {
	http           *retryablehttp.Client
	consumerKey    string
	consumerSecret string
}

// New builds a Client, reading the OAuth1 consumer key/secret from
// EnvConsumerKey/EnvConsumerSecret. contactMailto is embedded in the
// User-Agent header per Wikimedia's bot policy.
func New(contactMailto string) (*Client, errors.E) {
	consumerKey := os.Getenv(EnvConsumerKey)
	consumerSecret := os.Getenv(EnvConsumerSecret)
	if consumerKey == "" || consumerSecret == "" {
		return nil, errors.Errorf("%s and %s environment variables are required", EnvConsumerKey, EnvConsumerSecret)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = clientRetryMax
	client.Logger = nil

	userAgent := fmt.Sprintf("curator/1.0 (%s)", contactMailto)
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		req.Header.Set("User-Agent", userAgent)
	}

	return &Client{http: client, consumerKey: consumerKey, consumerSecret: consumerSecret}, nil
}

type titleBlacklistResponse struct {
	Query struct {
		TitleBlacklist struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"titleblacklist"`
	} `json:"query"`
}

// CheckTitleBlacklisted asks the TitleBlacklist extension whether filename
// would be rejected on upload.
func (c *Client) CheckTitleBlacklisted(ctx context.Context, filename string) (bool, string, error) {
	params := url.Values{
		"action":   {"titleblacklist"},
		"tbtitle":  {"File:" + filename},
		"tbaction": {"upload"},
		"format":   {"json"},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, actionAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return false, "", errors.WithStack(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, "", errors.WithStack(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out titleBlacklistResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", errors.WithStack(err)
	}

	return out.Query.TitleBlacklist.Result == "blacklisted", out.Query.TitleBlacklist.Reason, nil
}

type allImagesResponse struct {
	Query struct {
		AllImages []struct {
			Title string `json:"title"`
		} `json:"allimages"`
	} `json:"query"`
}

// FindDuplicates asks list=allimages&aisha1=sha1 for every File page already
// on Commons whose content hash equals sha1 — the action API's own
// hash-based duplicate lookup, the same one a human uploader's "this file
// already exists" warning is computed from.
func (c *Client) FindDuplicates(ctx context.Context, sha1 string) ([]worker.DuplicatePage, error) {
	params := url.Values{
		"action":  {"query"},
		"list":    {"allimages"},
		"aisha1":  {sha1},
		"ailimit": {"max"},
		"format":  {"json"},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, actionAPIURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out allImagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.WithStack(err)
	}

	dupes := make([]worker.DuplicatePage, 0, len(out.Query.AllImages))
	for _, page := range out.Query.AllImages {
		dupes = append(dupes, worker.DuplicatePage{
			Title: page.Title,
			URL:   "https://commons.wikimedia.org/wiki/" + strings.ReplaceAll(page.Title, " ", "_"),
		})
	}
	return dupes, nil
}

type uploadResponse struct {
	Upload struct {
		Result    string `json:"result"`
		Filename  string `json:"filename"`
		ImageInfo struct {
			DescriptionURL string `json:"descriptionurl"`
		} `json:"imageinfo"`
	} `json:"upload"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// UploadFile uploads the file at localPath to Commons as params.Filename,
// with params.Wikitext as the initial page text, then applies params.SDC as
// a wbeditentity claim batch. The whole file is sent in a single multipart
// request; chunked upload is not used.
func (c *Client) UploadFile(ctx context.Context, localPath string, params worker.UploadParams) (*worker.UploadResult, error) {
	file, err := os.Open(localPath) //nolint:gosec
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer file.Close() //nolint:errcheck

	body, contentType, err := buildUploadBody(params.Filename, params.Wikitext, params.EditSummary, file)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, actionAPIURL, body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", contentType)
	signOAuth1(req.Request, c.consumerKey, c.consumerSecret, params.AccessToken, params.AccessSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.WithStack(err)
	}
	if out.Error != nil {
		return nil, errors.Errorf("mediawiki upload error %s: %s", out.Error.Code, out.Error.Info)
	}
	if out.Upload.Result != "Success" {
		return nil, errors.Errorf("mediawiki upload did not succeed: %s", out.Upload.Result)
	}

	if len(params.SDC) > 0 {
		if err := c.applySDC(ctx, out.Upload.Filename, params.SDC, params.AccessToken, params.AccessSecret); err != nil {
			return nil, err
		}
	}

	return &worker.UploadResult{
		Title: "File:" + out.Upload.Filename,
		URL:   out.Upload.ImageInfo.DescriptionURL,
	}, nil
}

// buildUploadBody constructs the multipart/form-data body for action=upload.
// token="+\\" is the anonymous-token placeholder accepted by the action API
// for a request that already carries an OAuth1 Authorization header (OAuth1
// requests do not need a separate CSRF token round trip).
func buildUploadBody(filename, wikitext, summary string, file io.Reader) (io.Reader, string, errors.E) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"action":  "upload",
		"filename": filename,
		"text":    wikitext,
		"comment": summary,
		"token":   "+\\",
		"format":  "json",
		"ignorewarnings": "1",
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", errors.WithStack(err)
		}
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.WithStack(err)
	}

	return &buf, w.FormDataContentType(), nil
}

// applySDC pushes the merged claim list onto the uploaded file's entity via
// wbeditentity, the action the original Python's sdc-application step also
// ultimately drives.
func (c *Client) applySDC(ctx context.Context, filename string, statements []mediawiki.Statement, token, tokenSecret string) error {
	claimsJSON, errE := x.MarshalWithoutEscapeHTML(map[string]interface{}{"claims": statements})
	if errE != nil {
		return errE
	}

	form := url.Values{
		"action": {"wbeditentity"},
		"site":   {"commonswiki"},
		"title":  {"File:" + filename},
		"data":   {string(claimsJSON)},
		"token":  {"+\\"},
		"format": {"json"},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, actionAPIURL, []byte(form.Encode()))
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	signOAuth1(req.Request, c.consumerKey, c.consumerSecret, token, tokenSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return errors.WithStack(err)
	}
	if out.Error != nil {
		return errors.Errorf("wbeditentity error %s: %s", out.Error.Code, out.Error.Info)
	}
	return nil
}
