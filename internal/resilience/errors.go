package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Class is the retry classification of a collaborator error.
type Class int

const (
	// ClassNone marks a nil error.
	ClassNone Class = iota
	// ClassTransient errors (timeouts, transport failures, 5xx) are retried.
	ClassTransient
	// ClassRateLimited errors are retried, honoring RetryAfter when set.
	ClassRateLimited
	// ClassPermanent errors stop retrying immediately.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of class c should be retried.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassRateLimited
}

// Classifier maps a collaborator error to a Class.
type Classifier func(err error) Class

// TransientError wraps an error that is safe to retry (e.g., 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// RateLimitError signals that the collaborator asked the caller to slow down.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError wraps err as a rate-limit signal.
func NewRateLimitError(err error, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Err: err, RetryAfter: retryAfter}
}

// PermanentError marks an error that retrying cannot fix: a malformed
// request, an explicit rejection, or a response with no usable result.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as permanent.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// Classify is the default Classifier. Explicitly typed errors win, then a
// per-call deadline counts as transient, then network heuristics apply.
// Anything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return ClassRateLimited
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || IsTransient(err) {
		return ClassTransient
	}
	return ClassPermanent
}

// ClassifyHTTPStatus wraps err according to an HTTP status code: 429 becomes
// a RateLimitError, other transient statuses a TransientError, and remaining
// 4xx codes a PermanentError. Other codes return err unchanged.
func ClassifyHTTPStatus(statusCode int, err error) error {
	switch {
	case statusCode == 429:
		return NewRateLimitError(err, 0)
	case IsTransientHTTPStatus(statusCode):
		return NewTransientError(err, statusCode)
	case statusCode >= 400 && statusCode < 500:
		return NewPermanentError(err)
	default:
		return err
	}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
