// Package fetch wraps the HTTP transfers made against the spices server.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/starford/spices/internal/apperr"
)

const userAgent = "spices-harvester/1.0"

// maxBody caps in-memory responses (index and thumbnails).
const maxBody = 64 << 20

// Client performs GETs with a per-call timeout. A timeout is reported the
// same way as any other connection failure.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// New creates a client. A nil hc uses a fresh http.Client.
func New(hc *http.Client, timeout time.Duration) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: hc, timeout: timeout}
}

// WithTimeout returns a copy of c using a different per-call timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d <= 0 {
		return c
	}
	return &Client{http: c.http, timeout: d}
}

// Get fetches url and returns the whole body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, apperr.Network("read "+url, "", err)
	}
	return data, nil
}

// Download streams url into w and returns the number of bytes written.
func (c *Client) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, apperr.Network("download "+url, "", err)
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Network("build request", "", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Network("get "+url, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperr.Network("get "+url, "", fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return resp, nil
}
