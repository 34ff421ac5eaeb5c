package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// HTTPError is a non-2xx reply from the Cloud API. The raw body is kept so
// dispatch outcomes and reports can show the provider's own error detail.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("whatsapp api status %d body=%q", e.Status, e.Body)
}

// Retryable reports whether the status class is worth another attempt:
// rate limiting and server-side failures, never 4xx auth/validation errors.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// TimeoutError marks a call that exceeded its request deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("whatsapp %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Retryable classifies any client error for the dispatcher's backoff loop.
func Retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
