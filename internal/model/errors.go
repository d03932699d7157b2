package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable tag carried by every engine error.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindNotFound          ErrorKind = "not_found"
	KindEsvRejected       ErrorKind = "esv_rejected"
	KindQuarantined       ErrorKind = "quarantined"
	KindChecksumMismatch  ErrorKind = "checksum_mismatch"
	KindPersistence       ErrorKind = "persistence_failed"
	KindInternalInvariant ErrorKind = "internal_invariant"
	KindRateLimited       ErrorKind = "rate_limited"
)

// Stable numeric codes. Quarantine reasons reuse the drift/coherence codes so
// operators can correlate a trip with the gate error it produces.
const (
	CodeEsvRejected       = 1000
	CodeDriftExceeded     = 2000
	CodeReplayVariance    = 3000
	CodeValidation        = 4000
	CodeCoherenceFloor    = 4000
	CodeNotFound          = 4004
	CodeRateLimited       = 4029
	CodeQuarantined       = 5000
	CodeChecksumMismatch  = 6001
	CodePersistence       = 6002
	CodeInternalInvariant = 9000
)

var kindCodes = map[ErrorKind]int{
	KindValidation:        CodeValidation,
	KindNotFound:          CodeNotFound,
	KindEsvRejected:       CodeEsvRejected,
	KindQuarantined:       CodeQuarantined,
	KindChecksumMismatch:  CodeChecksumMismatch,
	KindPersistence:       CodePersistence,
	KindInternalInvariant: CodeInternalInvariant,
	KindRateLimited:       CodeRateLimited,
}

// Error is the typed error returned across the engine boundary.
// Message is caller-safe: it never includes internal state or paths.
type Error struct {
	Kind         ErrorKind
	Code         int
	Message      string
	FaultTraceID string // set only for KindQuarantined
}

func (e *Error) Error() string {
	if e.FaultTraceID != "" {
		return fmt.Sprintf("%s (%d): %s [fault_trace_id=%s]", e.Kind, e.Code, e.Message, e.FaultTraceID)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation, Code: CodeValidation}
	ErrNotFound          = &Error{Kind: KindNotFound, Code: CodeNotFound}
	ErrEsvRejected       = &Error{Kind: KindEsvRejected, Code: CodeEsvRejected}
	ErrQuarantined       = &Error{Kind: KindQuarantined, Code: CodeQuarantined}
	ErrChecksumMismatch  = &Error{Kind: KindChecksumMismatch, Code: CodeChecksumMismatch}
	ErrPersistence       = &Error{Kind: KindPersistence, Code: CodePersistence}
	ErrInternalInvariant = &Error{Kind: KindInternalInvariant, Code: CodeInternalInvariant}
	ErrRateLimited       = &Error{Kind: KindRateLimited, Code: CodeRateLimited}
)

// NewError builds an *Error with the stable code for kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: kindCodes[kind], Message: fmt.Sprintf(format, args...)}
}

// Validationf returns a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

// NotFoundf returns a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

// QuarantinedError returns the gate error for the given fault trace.
func QuarantinedError(faultTraceID string) *Error {
	e := NewError(KindQuarantined, "system is quarantined; mutations are blocked until recovery")
	e.FaultTraceID = faultTraceID
	return e
}

// AsError extracts an *Error. Untyped errors are reported as internal
// invariant failures with a generic message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindInternalInvariant, "internal error")
}
