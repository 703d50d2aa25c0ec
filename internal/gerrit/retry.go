package gerrit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

const (
	// defaultMaxRetries is the default number of retry attempts
	defaultMaxRetries = 3

	// maxRetryAfter caps how long a Retry-After header can make us wait.
	maxRetryAfter = 2 * time.Minute
)

// isRetryable reports whether a failed request should be attempted again.
// Rate limits, server errors and transport failures are retried; other
// client errors and cancellation are not.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// backoffDelay returns the wait before a retry attempt. A 429 carrying
// Retry-After in seconds is honoured; otherwise the delay doubles from
// backoffBase (1s, 2s, 4s by default).
func (c *Client) backoffDelay(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests && apiErr.retryAfter != "" {
		if secs, err := strconv.Atoi(apiErr.retryAfter); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, maxRetryAfter)
		}
	}
	return c.backoffBase * time.Duration(1<<(attempt-1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
