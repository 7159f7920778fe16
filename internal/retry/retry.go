// Package retry implements the bounded automatic-retry policy for uploads.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds automatic retries: at most MaxRetries extra attempts, each
// after a fixed Delay.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultPolicy retries three times, one second apart.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, Delay: time.Second}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Do calls fn until it succeeds, returns a non-transient error, the retry
// budget is spent, or ctx is done. fn receives the 1-based attempt number.
// onRetry, if set, runs before each wait.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(err error, wait time.Duration)) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxRetries)),
		ctx,
	)
	return backoff.RetryNotify(op, b, onRetry)
}

// IsTransient reports whether err may succeed on another attempt: network
// failures, timeouts, and server-side (5xx), 408 and 429 responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "broken pipe")
}

// IsNetwork reports whether err is a transport-level failure (no HTTP
// response at all), as opposed to an error status from the server.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return false
	}
	return IsTransient(err)
}
