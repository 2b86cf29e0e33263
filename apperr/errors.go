// Package apperr defines the error kinds shared by the ledger, the workers
// and the HTTP layer, and the transient/permanent classification used by the
// retry policy.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w") and test with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Validation reports bad input or an edit attempted in an invalid state.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// Invariant reports a broken storage invariant, e.g. batch counts exceeding the total.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// Class is the retry classification of a job failure.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// TransientError marks infrastructure failures that are worth retrying.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks failures that must not be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewTransient wraps err as retryable. A nil err stays nil.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// NewPermanent wraps err as non-retryable. A nil err stays nil.
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// UpstreamStatusError is a non-2xx answer from an external service.
type UpstreamStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Body)
}

// Classify decides whether err is transient or permanent. Explicit wrappers
// win; otherwise timeouts, gateway statuses and connection errors are
// transient and everything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return Permanent
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return Transient
	}
	var status *UpstreamStatusError
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
}

// IsTransient is shorthand for Classify(err) == Transient.
func IsTransient(err error) bool { return Classify(err) == Transient }
