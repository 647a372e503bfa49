// Package httputil provides the HTTP client the gateway uses to forward
// requests to downstream domain service instances.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/astra-platform/backbone/internal/correlation"
)

// ErrTimeout marks a downstream call that exceeded its deadline. The router
// counts these as circuit breaker failures.
var ErrTimeout = errors.New("downstream timeout")

// Response is a buffered downstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client forwards gateway requests downstream.
type Client struct {
	httpClient  *http.Client
	maxBodySize int64
}

// NewClient creates a forwarding client. The per-request deadline comes
// from the caller's context; the client itself carries no timeout so the
// router stays in control.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxBodySize: 8 << 20,
	}
}

// Forward sends the request to baseURL+path and buffers the response. The
// correlation ID from the context is always attached.
func (c *Client) Forward(ctx context.Context, baseURL, method, path, rawQuery string, header http.Header, body []byte) (*Response, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse downstream url %q: %w", baseURL, err)
	}
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawQuery = rawQuery

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build downstream request: %w", err)
	}
	copyForwardableHeaders(req.Header, header)
	if id := correlation.FromContext(ctx); id != "" {
		req.Header.Set(correlation.Header, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("downstream request: %w", err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("read downstream response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       buf,
	}, nil
}

// hopByHopHeaders are stripped before forwarding.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func copyForwardableHeaders(dst, src http.Header) {
	for key, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
