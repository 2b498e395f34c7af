package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for retry and propagation decisions.
type ErrorKind string

const (
	// KindValidation marks caller errors (bad CIK, accession, ticker,
	// threshold out of range). Never retried.
	KindValidation ErrorKind = "validation"

	// KindNotFound marks missing filings or symbols. Jobs that hit this
	// mid-workflow terminate as completed with a not-found result.
	KindNotFound ErrorKind = "not_found"

	// KindRateLimited marks 429s and limiter deadline misses. Handled with
	// backoff; escalates to transient transport when retries exhaust.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTransient marks timeouts, 5xx, and DNS failures. Retried by the
	// job queue up to the job's retry budget.
	KindTransient ErrorKind = "transient"

	// KindMalformed marks unparseable or validation-failed provider
	// responses. The caller skips the provider and continues the chain.
	KindMalformed ErrorKind = "malformed"

	// KindUnavailable marks an exhausted provider chain.
	KindUnavailable ErrorKind = "unavailable"

	// KindInternal marks invariant violations. Fatal for the current job.
	KindInternal ErrorKind = "internal"
)

// Error is a classified error carrying the kind used by retry policy.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError wraps an underlying error with a classification.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the classification from an error chain.
// Unclassified errors are treated as transient: the queue's retry budget
// bounds the damage and most unclassified failures are transport-level.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the queue should retry the failed job.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInternal:
		return false
	default:
		return true
	}
}
