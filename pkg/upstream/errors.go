package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fetch taxonomy.
var (
	// ErrUpstreamUnavailable indicates a timeout, network failure, or a
	// non-2xx/non-304 response from the listings source. It is retryable by
	// the caller; the client never retries internally.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInconsistentState indicates a 304 Not Modified was received but no
	// cached copy exists to serve. Consumers must surface this as a failure
	// rather than silently returning empty data.
	ErrInconsistentState = errors.New("not modified but no cached copy exists")
)

// Error carries status context for an upstream failure.
type Error struct {
	StatusCode int
	Endpoint   string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s error (status %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s error: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
