// Package client talks to a running pms server.
package client

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
	"path/filepath"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/metal-toolbox/pms/internal/aggregate"
	"github.com/metal-toolbox/pms/internal/api"
	"github.com/metal-toolbox/pms/internal/app"
	"github.com/pkg/errors"
)

var (
	retryDelay = 4 * time.Second
	// archives are processed before the response is written, allow for large uploads.
	clientTimeout = 300 * time.Second

	ErrRequest = errors.New("error in server request")
	ErrArchive = errors.New("error reading archive")
)

// Option sets a Client parameter.
type Option func(*Client)

// WithRetries sets the retry count and the minimum wait between attempts.
func WithRetries(n int, wait time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = n
		c.http.RetryWaitMin = wait
	}
}

// WithPrefix sets the API path prefix of the server.
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimSuffix(prefix, "/")
	}
}

type Client struct {
	serverURL string
	prefix    string
	http      *retryablehttp.Client
}

func New(serverURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrap(ErrRequest, "invalid server URL: "+serverURL)
	}

	hc := retryablehttp.NewClient()
	hc.RetryWaitMin = retryDelay
	hc.Logger = nil
	hc.HTTPClient.Timeout = clientTimeout
	hc.CheckRetry = checkRetry

	c := &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		prefix:    app.DefaultAPIPrefix,
		http:      hc,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// checkRetry retries a busy server on top of the default policy.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusConflict {
		return true, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Upload posts the archive at path to the server and returns the processing result.
func (c *Client) Upload(ctx context.Context, path, worker string) (*api.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrArchive, err.Error())
	}
	defer f.Close()

	// the body is buffered so the request can be replayed on retry
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if worker != "" {
		if err := mw.WriteField("worker", worker); err != nil {
			return nil, errors.Wrap(ErrArchive, err.Error())
		}
	}

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, errors.Wrap(ErrArchive, err.Error())
	}

	if _, err := io.Copy(fw, f); err != nil {
		return nil, errors.Wrap(ErrArchive, err.Error())
	}

	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(ErrArchive, err.Error())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/"), body.Bytes())
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp := &api.UploadResponse{}
	if err := c.do(req, resp); err != nil {
		return nil, err
	}

	return resp, nil
}

// Stats returns the dashboard statistics.
func (c *Client) Stats(ctx context.Context) (*aggregate.Stats, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/dashboard/stats"), nil)
	if err != nil {
		return nil, err
	}

	stats := &aggregate.Stats{}
	if err := c.do(req, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

func (c *Client) endpoint(path string) string {
	return c.serverURL + c.prefix + path
}

func (c *Client) do(req *retryablehttp.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(ErrRequest, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := struct {
			Detail string `json:"detail"`
		}{}

		_ = json.NewDecoder(resp.Body).Decode(&detail)

		return errors.Wrap(ErrRequest, fmt.Sprintf("URL: %s, status code %s, detail: %s", req.URL, resp.Status, detail.Detail))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(ErrRequest, "decoding response: "+err.Error())
	}

	return nil
}
