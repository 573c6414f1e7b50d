// Package apierr classifies errors into the small set of kinds the memory
// service reasons about, rather than sprinkling errors.Is checks across
// every handler. It wraps causes with %w so the underlying error survives
// for logging while the kind drives HTTP status mapping and background-task
// retry behavior.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the five error kinds of spec §7.
type Kind int

const (
	KindFatal Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is a classified error wrapping a cause.
type Error struct {
	kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{kind: k, msg: msg, cause: cause}
}

// NotFound builds a KindNotFound error, e.g. session or record missing.
func NotFound(msg string, cause error) *Error { return newErr(KindNotFound, msg, cause) }

// InvalidInput builds a KindInvalidInput error: schema violation, unknown
// model name, disabled feature.
func InvalidInput(msg string, cause error) *Error { return newErr(KindInvalidInput, msg, cause) }

// Conflict builds a KindConflict error for an optimistic-write version
// mismatch.
func Conflict(msg string, cause error) *Error { return newErr(KindConflict, msg, cause) }

// Transient builds a KindTransient error: provider timeout, 5xx, rate-limit.
// Retryable in the background, surfaced as 503/429 on synchronous paths.
func Transient(msg string, cause error) *Error { return newErr(KindTransient, msg, cause) }

// Fatal builds a KindFatal error: adapter hard failure, corrupt state.
func Fatal(msg string, cause error) *Error { return newErr(KindFatal, msg, cause) }

// Wrapf classifies an existing error by heuristic and wraps it with the
// given format, preserving the classification if cause is already an *Error.
func Wrapf(cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	var existing *Error
	if errors.As(cause, &existing) {
		return newErr(existing.kind, msg, cause)
	}
	if IsTransient(cause) {
		return newErr(KindTransient, msg, cause)
	}
	return newErr(KindFatal, msg, cause)
}

// ClassifyHTTPStatus maps an error to the HTTP status codes of spec §6.3.
// Unclassified errors map to 500.
func ClassifyHTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.kind {
	case KindNotFound:
		return 404
	case KindInvalidInput:
		return 400
	case KindConflict:
		return 409
	case KindTransient:
		if isRateLimit(e) {
			return 429
		}
		return 503
	default:
		return 500
	}
}

// KindOf extracts the Kind of a classified error, defaulting to KindFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	if IsTransient(err) {
		return KindTransient
	}
	return KindFatal
}

func isRateLimit(e *Error) bool {
	s := strings.ToLower(e.Error())
	return strings.Contains(s, "rate-limit") || strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests") || strings.Contains(s, "429")
}

// IsTransient performs the same string heuristic the teacher's orchestrator
// used for Kafka command handling, reused here to classify provider/network
// errors that were not already wrapped through apierr.Transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "temporary") ||
		strings.Contains(s, "temporarily unavailable") ||
		strings.Contains(s, "transient") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "502")
}
