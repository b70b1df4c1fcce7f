package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ResponseInfo is a fully read response.
type ResponseInfo struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Client sends CLI requests to the execution service.
type Client struct {
	baseURL   string
	http      *http.Client
	sessionID func() string
}

// New creates a client. sessionID is read before every request and sent as X-Session-Id.
func New(baseURL string, timeout time.Duration, sessionID func() string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		sessionID: sessionID,
	}
}

func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.Timeout = timeout
	}
}

func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, body []byte) (ResponseInfo, error) {
	var info ResponseInfo
	var payload io.Reader
	if len(body) > 0 {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return info, fmt.Errorf("build request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// Asking for gzip explicitly turns off the transport's transparent decoding.
	req.Header.Set("Accept-Encoding", "gzip")
	if c.sessionID != nil {
		if id := c.sessionID(); id != "" {
			req.Header.Set("X-Session-Id", id)
		}
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	info.Duration = time.Since(start)
	if err != nil {
		return info, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	info.StatusCode = resp.StatusCode
	info.Headers = resp.Header

	reader := io.Reader(resp.Body)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return info, fmt.Errorf("open gzip body failed: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}
	if info.Body, err = io.ReadAll(reader); err != nil {
		return info, fmt.Errorf("read response body failed: %w", err)
	}
	return info, nil
}
