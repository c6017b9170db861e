package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a fetch or extraction failure.
type ErrorKind string

// Failure kinds. Transient and Render are retryable; the rest are terminal.
const (
	KindTransient  ErrorKind = "transient"
	KindPermanent  ErrorKind = "permanent"
	KindExtraction ErrorKind = "extraction"
	KindRender     ErrorKind = "render"
	KindCancelled  ErrorKind = "cancelled"
)

// Error is the diagnostic attached to a failed attempt.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter carries a server-provided backoff hint (e.g. a 429
	// Retry-After header). Zero means no hint.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(statusCode int, err error) *Error {
	return &Error{Kind: KindTransient, StatusCode: statusCode, Err: err}
}

// NewPermanent wraps err as a failure that retrying will not resolve.
func NewPermanent(statusCode int, err error) *Error {
	return &Error{Kind: KindPermanent, StatusCode: statusCode, Err: err}
}

// NewExtraction wraps an extraction function failure. The fetch itself
// succeeded, so the job is never retried.
func NewExtraction(err error) *Error {
	return &Error{Kind: KindExtraction, Err: err}
}

// NewRender wraps a browser session failure. Retryable; the backend recycles
// the session.
func NewRender(err error) *Error {
	return &Error{Kind: KindRender, Err: err}
}

// NewCancelled wraps a shutdown-induced failure.
func NewCancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Err: err}
}

// KindOf extracts the failure kind from err. Plain context errors map to
// Cancelled, network timeouts to Transient, everything else to Permanent.
func KindOf(err error) ErrorKind {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRender:
		return true
	default:
		return false
	}
}

// RetryAfterHint returns the server-provided backoff hint, if any.
func RetryAfterHint(err error) time.Duration {
	var fetchErr *Error
	if errors.As(err, &fetchErr) {
		return fetchErr.RetryAfter
	}
	return 0
}

// ClassifyStatus maps a non-2xx HTTP status to a failure. 5xx and 429 are
// transient (429 carries any Retry-After hint); other 4xx are permanent.
func ClassifyStatus(statusCode int, headers http.Header) *Error {
	err := fmt.Errorf("unexpected status %d", statusCode)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindTransient,
			StatusCode: statusCode,
			RetryAfter: parseRetryAfter(headers),
			Err:        err,
		}
	case statusCode >= 500:
		return &Error{
			Kind:       KindTransient,
			StatusCode: statusCode,
			RetryAfter: parseRetryAfter(headers),
			Err:        err,
		}
	default:
		return NewPermanent(statusCode, err)
	}
}

func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
