package ingest

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// MaxRetries bounds attempts per collaborator call before the unit is
// persisted as degraded.
const MaxRetries = 3

// RetryableError indicates a transient collaborator failure worth retrying,
// typically a 429 or 5xx from the vision API.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}
