package responder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// retryableError indicates a transient provider failure.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request up to maxAttempts times, backing off
// between attempts with jitter. Only transport errors, 5xx, and 429 are
// retried; any other response is returned to the caller as-is.
func doWithRetry(ctx context.Context, client *http.Client, maxAttempts int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			base := time.Duration(attempt-1) * time.Second
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			logger.Warn("retrying responder request", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("responder request failed", "attempt", attempt, "error", err)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			logger.Warn("responder server error", "attempt", attempt, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("responder request failed after %d attempts: %w", maxAttempts, lastErr)
}
