package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTransport sends file bytes to the destination with a plain HTTP client.
// It deliberately does not retry: a failed transfer is reported to the caller,
// and a new attempt needs a freshly resolved destination anyway.
type DefaultTransport struct {
	Client *http.Client
}

// NewDefaultTransport creates a Transport backed by DefaultHTTPClient.
func NewDefaultTransport() *DefaultTransport {
	return &DefaultTransport{Client: DefaultHTTPClient()}
}

// DefaultHTTPClient creates an HTTP client tuned for long-running uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - uploads are bounded via context cancellation
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Send streams body to the destination using its method and headers.
func (t *DefaultTransport) Send(ctx context.Context, dest Destination, body io.Reader, size int64, progress func(sent int64)) error {
	method := dest.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, dest.URL, &countingReader{reader: body, report: progress})
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = size

	client := t.Client
	if client == nil {
		client = DefaultHTTPClient()
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(errorBody[:n]))
	}

	return nil
}

// countingReader reports the cumulative byte count as the request body is consumed.
type countingReader struct {
	reader io.Reader
	sent   int64
	report func(sent int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.report != nil {
			c.report(c.sent)
		}
	}
	return n, err
}
