package queue

import (
	"errors"
	"fmt"
	"time"
)

// NoRetry marks an error as non-retryable.
//
// Handlers wrap permanent failures (bad credentials, unknown job types) with
// NoRetry so the queue fails the job immediately instead of burning attempts.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfterError is implemented by errors that carry an explicit retry
// delay, e.g. a platform's Retry-After response on HTTP 429.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}
