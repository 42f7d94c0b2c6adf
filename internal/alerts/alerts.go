// Package alerts defines the error taxonomy surfaced to listeners and
// the Alert type PlayerState carries instead of throwing across the
// listener boundary.
package alerts

import (
	"context"
	"errors"
	"fmt"
)

// Severity classifies how an Alert should be presented.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Alert is a non-fatal notice attached to a PlayerState emission.
type Alert struct {
	Severity Severity
	Message  string
	Err      error
	Tags     map[string]string
}

func (a Alert) Error() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %v", a.Message, a.Err)
	}
	return a.Message
}

func Info(msg string) Alert  { return Alert{Severity: SeverityInfo, Message: msg} }
func Warn(msg string) Alert  { return Alert{Severity: SeverityWarn, Message: msg} }
func Error(msg string, err error) Alert {
	return Alert{Severity: SeverityError, Message: msg, Err: err}
}

// Kind identifies one row of the error taxonomy in spec §7.
type Kind string

const (
	KindNetwork               Kind = "NetworkError"
	KindIntegrityFailure      Kind = "IntegrityFailure"
	KindMissingAsset          Kind = "MissingAsset"
	KindParseError            Kind = "ParseError"
	KindAbort                 Kind = "AbortError"
	KindInvariantViolation    Kind = "InvariantViolation"
	KindUnsupportedOperation  Kind = "UnsupportedOperation"
	KindPreconditionViolation Kind = "PreconditionViolation"
	KindStorageError          Kind = "StorageError"
)

// TypedError wraps an underlying cause with a taxonomy Kind so callers
// can classify failures per the propagation table in spec §7.
type TypedError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *TypedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *TypedError) Unwrap() error { return e.Cause }

func New(kind Kind, message string, cause error) *TypedError {
	return &TypedError{Kind: kind, Message: message, Cause: cause}
}

func NetworkError(message string, cause error) *TypedError {
	return New(KindNetwork, message, cause)
}

func IntegrityFailure(message string) *TypedError {
	return New(KindIntegrityFailure, message, nil)
}

func MissingAsset(message string) *TypedError {
	return New(KindMissingAsset, message, nil)
}

func ParseError(message string, cause error) *TypedError {
	return New(KindParseError, message, cause)
}

func InvariantViolation(message string) *TypedError {
	return New(KindInvariantViolation, message, nil)
}

func UnsupportedOperation(op string) *TypedError {
	return New(KindUnsupportedOperation, op+" is not supported", nil)
}

func PreconditionViolation(message string) *TypedError {
	return New(KindPreconditionViolation, message, nil)
}

func StorageError(message string, cause error) *TypedError {
	return New(KindStorageError, message, cause)
}

// IsAbort reports whether err represents the AbortError case: the
// caller's context was canceled or timed out.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *TypedError, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
