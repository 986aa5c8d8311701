// Package upstream classifies failures of external services and retries transient ones.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrMalformedResponse indicates an upstream body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed upstream response")

// StatusError is a non-success HTTP status returned by an upstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying (5xx and 429).
func (e *StatusError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable regardless of its type.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is a retryable upstream failure:
// timeouts, connection errors, 5xx/429 statuses and errors marked with Transient.
// Cancellation of the caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
