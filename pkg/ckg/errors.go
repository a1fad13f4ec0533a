package ckg

import (
	"errors"
	"fmt"
)

// ErrorKind is the exhaustive error taxonomy of §7. It is a closed enum
// carried as a field, not a type hierarchy (§9 "tagged enums over subclassing").
type ErrorKind string

const (
	KindNotFound                  ErrorKind = "NotFound"
	KindInvalidArgument           ErrorKind = "InvalidArgument"
	KindAmbiguous                 ErrorKind = "Ambiguous"
	KindConsentRequired           ErrorKind = "ConsentRequired"
	KindConstitutiveEdgeProtection ErrorKind = "ConstitutiveEdgeProtection"
	KindFramingViolation          ErrorKind = "FramingViolation"
	KindRetentionExpired          ErrorKind = "RetentionExpired"
	KindConflictDetected          ErrorKind = "ConflictDetected"
	KindEmbeddingUnavailable      ErrorKind = "EmbeddingUnavailable"
	KindClassifierUnavailable     ErrorKind = "ClassifierUnavailable"
	KindConnectionUnavailable     ErrorKind = "ConnectionUnavailable"
	KindInternal                  ErrorKind = "Internal"
)

// Error carries a [ErrorKind] plus a human-readable message and optional
// structured details, matching the error envelope of §6:
//
//	{ "status": "error",
//	  "error": { "kind": <ErrorKind>, "message": <text>, "details"?: {...} } }
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an [*Error] of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy of e with Cause set to err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Cause = err
	return &cp
}

// KindOf extracts the [ErrorKind] of err if it (or something it wraps) is a
// [*Error]; otherwise it returns [KindInternal].
func KindOf(err error) ErrorKind {
	var ckgErr *Error
	if errors.As(err, &ckgErr) {
		return ckgErr.Kind
	}
	return KindInternal
}

var (
	// ErrNotFound is a sentinel for entity lookup misses. Prefer NewError
	// (KindNotFound, ...) when a message is available; this sentinel exists
	// for callers that only need errors.Is.
	ErrNotFound = NewError(KindNotFound, "not found")
)
