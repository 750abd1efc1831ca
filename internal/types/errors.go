package types

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors into the six coarse categories callers branch on.
type Kind string

// Error kind constants
const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindConstraint Kind = "constraint"
	KindStorage    Kind = "storage"
	KindIdentity   Kind = "identity"
)

// Code identifies the precise failure within a kind.
type Code string

// Error code constants
const (
	CodeInvalidInput     Code = "invalid_input"
	CodeInvalidID        Code = "invalid_id"
	CodeInvalidTag       Code = "invalid_tag"
	CodeInvalidTimestamp Code = "invalid_timestamp"
	CodeInvalidMetadata  Code = "invalid_metadata"

	CodeNotFound       Code = "not_found"
	CodeEntityNotFound Code = "entity_not_found"

	CodeAlreadyExists Code = "already_exists"
	CodeCycleDetected Code = "cycle_detected"

	CodeImmutable     Code = "immutable"
	CodeHasDependents Code = "has_dependents"
	CodeRateLimited   Code = "rate_limited"
	CodePoolExhausted Code = "pool_exhausted"

	CodeDatabaseError    Code = "database_error"
	CodeMigrationFailed  Code = "migration_failed"
	CodeIntegrityFailure Code = "integrity_failure"

	CodeIDCollision Code = "id_collision"
)

// Error is the structured error carried across package boundaries. It
// wraps an optional cause and maps onto HTTP status hints and process
// exit codes at the edges.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status hint for API surfaces.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindConstraint:
		return http.StatusUnprocessableEntity
	case KindStorage:
		return http.StatusInternalServerError
	case KindIdentity:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// ExitCode maps the error kind onto the CLI process exit code:
// 0 success, 1 general, 2 invalid-args, 3 not-found, 4 validation,
// 5 permission. Invalid-args (2) is reserved for CLI flag parsing.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindValidation:
		return 4
	case KindNotFound:
		return 3
	case KindIdentity:
		return 5
	}
	return 1
}

// NewError constructs a structured error without a cause.
func NewError(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// WrapError constructs a structured error wrapping a cause.
func WrapError(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NotFound is the common constructor for missing elements.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("element not found: %s", id)}
}

// AlreadyExists is the common constructor for duplicate creation.
func AlreadyExists(id string) *Error {
	return &Error{Kind: KindConflict, Code: CodeAlreadyExists, Message: fmt.Sprintf("element already exists: %s", id)}
}

// CycleDetected is the common constructor for dependency cycles.
func CycleDetected(path []string) *Error {
	return &Error{Kind: KindConflict, Code: CodeCycleDetected, Message: fmt.Sprintf("dependency cycle: %v", path)}
}

func isKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsConstraint reports whether err is a constraint error.
func IsConstraint(err error) bool { return isKind(err, KindConstraint) }

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return isKind(err, KindStorage) }

// ErrCode extracts the structured code from err, or "" when err is not a
// structured error.
func ErrCode(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
