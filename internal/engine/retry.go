package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
)

// isRetryableError returns true for transient source or warehouse errors
// worth retrying: stale pool connections, brief network blips, server
// restarts, and warehouse-side rate limiting or internal errors. Schema
// discovery and anything else is surfaced immediately.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Warehouse job errors carry HTTP status codes.
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	// MySQL driver transient errors
	if strings.Contains(errStr, "driver: bad connection") {
		return true
	}
	if strings.Contains(errStr, "invalid connection") {
		return true
	}
	// Network transient errors (brief blips, not persistent failures)
	if strings.Contains(errStr, "broken pipe") {
		return true
	}
	if strings.Contains(errStr, "connection reset") {
		return true
	}
	// Server restart: the source may come back within the retry budget.
	if strings.Contains(errStr, "connection refused") {
		return true
	}
	// MySQL error 2013: mid-query disconnect
	if strings.Contains(errStr, "lost connection") {
		return true
	}
	// MySQL error 2006: idle connection timeout
	if strings.Contains(errStr, "gone away") {
		return true
	}
	// Go net package timeout on read/write
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	return false
}

// withRetry executes op with a fixed delay between attempts, up to
// maxRetries retries. Non-retryable errors stop immediately.
func withRetry(ctx context.Context, maxRetries int, delay time.Duration, op func() error) error {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries))
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
