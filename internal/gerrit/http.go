package gerrit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// xssiPrefix guards every Gerrit JSON response body.
var xssiPrefix = []byte(")]}'")

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// APIError represents a non-2xx HTTP response.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// getJSON sends an authenticated GET and unmarshals the JSON response into
// dest. 429 and 5xx responses and transport failures are retried.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoffDelay(attempt, lastErr)); err != nil {
				return err
			}
		}

		body, err := c.get(ctx, fullURL)
		if err == nil {
			return decodeJSON(body, dest)
		}
		if !isRetryable(ctx, err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("all retry attempts failed: %w", lastErr)
}

// get performs a single request and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 512 {
		bodyStr = bodyStr[:512]
	}
	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Body:       bodyStr,
		retryAfter: resp.Header.Get("Retry-After"),
	}
}

// decodeJSON strips the XSSI guard line and unmarshals the rest.
func decodeJSON(body []byte, dest any) error {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, xssiPrefix)
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
