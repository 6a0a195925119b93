// Package httpx is the JSON-over-HTTP transport used by the REST sources.
// Transient 429 / 5xx responses are retried here, so callers only see
// the final outcome
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxBodySize = 8 << 20 // 8 MiB
)

// StatusError is returned for unexpected HTTP statuses
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invalid status code received: %d", e.StatusCode)
}

// Client is a small wrapper around http.Client with sane defaults
type Client struct {
	http    *http.Client
	headers map[string]string

	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

type Option func(c *Client)

// WithHeaders sets default headers, applied unless the request sets them
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithRetry configures the retry policy for 429 / 5xx responses
func WithRetry(maxRetries uint64, initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialInterval = initial
		c.maxInterval = maxInterval
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a new client with the given request timeout
func New(timeout time.Duration, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
			"User-Agent":      defaultUserAgent,
		},
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PostJSON posts the JSON-encoded body and returns the raw response body.
// 429 and 5xx responses are retried with exponential backoff
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal request: %w", err)
	}

	return c.do(ctx, http.MethodPost, url, payload)
}

// Get fetches the given URL and returns the raw response body.
// 429 and 5xx responses are retried with exponential backoff
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var out []byte

	operation := func() error {
		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("unable to create %s request: %w", method, err))
		}

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		for k, v := range c.headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Timeouts and connection errors are left to the caller
			return backoff.Permanent(fmt.Errorf("unable to execute %s request: %w", method, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &StatusError{StatusCode: resp.StatusCode}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode})
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("unable to read response: %w", err))
		}

		out = data

		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxInterval = c.maxInterval
	b.MaxElapsedTime = 0 // bounded by the retry count

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	return out, nil
}
