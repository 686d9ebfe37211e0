package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

type resolveRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type resolveResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Key       string            `json:"key"`
	PublicURL string            `json:"publicUrl"`
	ExpiresIn int64             `json:"expiresIn"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIResolver resolves upload destinations by calling a presign endpoint
// over HTTP: POST {fileName, contentType, size} -> {url, method, headers, ...}.
type APIResolver struct {
	httpClient *retryablehttp.Client
	endpoint   string
	headers    map[string]string
	logger     log.Logger
}

// NewAPIResolver creates a Resolver for the given presign endpoint URL.
// headers are extra request headers sent with every resolver call (e.g. auth).
func NewAPIResolver(endpoint string, headers map[string]string, logger log.Logger) *APIResolver {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &APIResolver{
		httpClient: retryhttp.NewClient(logger),
		endpoint:   endpoint,
		headers:    headers,
		logger:     logger,
	}
}

// Resolve requests a one-time upload destination for the given file.
func (c *APIResolver) Resolve(ctx context.Context, file FileInfo) (Destination, error) {
	body, err := json.Marshal(resolveRequest{
		FileName:    file.FileName,
		ContentType: file.ContentType,
		Size:        file.Size,
	})
	if err != nil {
		return Destination{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Destination{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Destination{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Destination{}, unwrapError(resp)
	}

	var response resolveResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return Destination{}, fmt.Errorf("decode resolver response: %w", err)
	}
	if response.URL == "" {
		return Destination{}, fmt.Errorf("resolver response contains no upload URL")
	}
	if response.Method == "" {
		response.Method = http.MethodPut
	}

	return Destination{
		URL:       response.URL,
		Method:    response.Method,
		Headers:   response.Headers,
		Key:       response.Key,
		PublicURL: response.PublicURL,
		ExpiresIn: response.ExpiresIn,
	}, nil
}

// unwrapError turns a non-2xx resolver response into an error, preferring the
// error or message field of a JSON body over the raw payload.
func unwrapError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Error)
		}
		if errResp.Message != "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errResp.Message)
		}
	}
	if len(body) == 0 {
		return fmt.Errorf("HTTP %d: request failed", resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
}
