package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiError carries the HTTP status and raw body of a non-2xx provider
// response so adapters can recognize duplicate-subscription and not-found
// shapes without re-reading the body.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.Status, e.Body)
}

func (e *apiError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// restClient is the shared JSON-over-HTTP plumbing for the provider
// adapters: marshal the body, apply the adapter's auth headers, bound the
// call with the client timeout, decode into out.
type restClient struct {
	httpClient *http.Client
	auth       func(*http.Request)
}

func newRestClient(timeout time.Duration, auth func(*http.Request)) restClient {
	return restClient{
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

func (c *restClient) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// asAPIError unwraps err into an apiError, or nil if it is transport-level.
func asAPIError(err error) *apiError {
	if apiErr, ok := err.(*apiError); ok {
		return apiErr
	}
	return nil
}
