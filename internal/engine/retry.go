package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/homeflowhq/homeflow/pkg/schema"
)

// IsRetryableError classifies whether a step failure should be retried.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: validation errors and typed PipeErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Step deadline exceeded is retryable (step timeout, not engine shutdown).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled is NOT retryable — the engine is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pipeErr *schema.PipeError
	if errors.As(err, &pipeErr) {
		// A wrapped step deadline still counts as a timeout.
		if errors.Is(pipeErr.Cause, context.DeadlineExceeded) {
			return true
		}
		if errors.Is(pipeErr.Cause, context.Canceled) {
			return false
		}
		return pipeErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable (conservative — the retry policy limits attempts).
	return true
}

// WaitForBackoff sleeps for the backoff duration or returns early if the
// context is cancelled. Returns an error if the context was cancelled
// during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
