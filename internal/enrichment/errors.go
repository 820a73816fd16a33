package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a source failure.
type ErrorKind string

// Source failure kinds.
const (
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindStatus      ErrorKind = "status"
	KindMalformed   ErrorKind = "malformed"
	KindNotFound    ErrorKind = "not_found"
	KindCircuitOpen ErrorKind = "circuit_open"
	KindUnknown     ErrorKind = "unknown"
)

// SourceError is a failed fetch from one enrichment source.
type SourceError struct {
	Source     string
	Kind       ErrorKind
	Retryable  bool
	StatusCode int // HTTP status for KindStatus
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s %d: %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RateLimitError is a rejection by the source's own rate limiter.
// RetryAfter is zero when the response carried no reset hint.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Source)
}

// NewSourceError builds a SourceError with the default retry policy for kind.
func NewSourceError(source string, kind ErrorKind, err error) *SourceError {
	return &SourceError{
		Source:    source,
		Kind:      kind,
		Retryable: kind == KindNetwork || kind == KindTimeout,
		Err:       err,
	}
}

// NewStatusError builds a SourceError for an unexpected HTTP status.
// 5xx responses are retryable, everything else is not.
func NewStatusError(source string, status int, body string) *SourceError {
	return &SourceError{
		Source:     source,
		Kind:       KindStatus,
		Retryable:  status >= 500,
		StatusCode: status,
		Err:        errors.New(body),
	}
}

// IsRetryable reports whether err warrants another attempt.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// classify normalizes an arbitrary error from source into the taxonomy.
func classify(source string, err error) error {
	if err == nil {
		return nil
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.Source != "" {
			return rl
		}
		cp := *rl
		cp.Source = source
		return &cp
	}
	var se *SourceError
	if errors.As(err, &se) {
		if se.Source != "" {
			return se
		}
		cp := *se
		cp.Source = source
		return &cp
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewSourceError(source, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewSourceError(source, KindTimeout, err)
		}
		return NewSourceError(source, KindNetwork, err)
	}
	return NewSourceError(source, KindUnknown, err)
}
