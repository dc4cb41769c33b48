package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrInternal
)

// Clinical query error codes
const (
	ErrInvalidIdentifierFormat ErrorCode = iota + 2000
	ErrPatientNotFound
	ErrAmbiguousTemporal
	ErrIsolationViolation
	ErrUpstreamTimeout
	ErrObjectNotFound
	ErrSummaryExists
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

// InvalidIdentifierFormat is returned before any lookup when an identifier
// fails its format check.
func InvalidIdentifierFormat(identifier string) *AppError {
	return &AppError{
		Code:    ErrInvalidIdentifierFormat,
		Message: fmt.Sprintf("identifier %q is not a valid MRN", identifier),
	}
}

// PatientNotFound is returned when an exact-match MRN lookup finds nothing.
func PatientNotFound(mrn string, err error) *AppError {
	return &AppError{
		Code:    ErrPatientNotFound,
		Message: fmt.Sprintf("no patient with MRN %q", mrn),
		Err:     err,
	}
}

// AmbiguousTemporal is returned when a relative temporal phrase cannot be
// mapped deterministically. The engine never guesses a window.
func AmbiguousTemporal(phrase string) *AppError {
	return &AppError{
		Code:    ErrAmbiguousTemporal,
		Message: fmt.Sprintf("temporal expression %q cannot be resolved deterministically", phrase),
	}
}

// IsolationViolation marks a semantic query issued without a patient scope.
// This is a programming error, not an input error: it aborts the whole
// request and must never be downgraded to a partial failure.
func IsolationViolation(detail string) *AppError {
	return &AppError{
		Code:    ErrIsolationViolation,
		Message: fmt.Sprintf("semantic query without patient scope: %s", detail),
	}
}

// UpstreamTimeout wraps a timed-out external call. Callers retry once with
// backoff, then surface a degraded result.
func UpstreamTimeout(upstream string, err error) *AppError {
	return &AppError{
		Code:    ErrUpstreamTimeout,
		Message: fmt.Sprintf("upstream %s timed out", upstream),
		Err:     err,
	}
}

// ObjectNotFound is returned when document content is missing from object
// storage; direct loads fall back to filtered semantic search.
func ObjectNotFound(path string, err error) *AppError {
	return &AppError{
		Code:    ErrObjectNotFound,
		Message: fmt.Sprintf("object %q not found", path),
		Err:     err,
	}
}

// SummaryExists signals an idempotent summary write that hit an existing
// record for the same (patient, tier, period). Treated as success by callers.
func SummaryExists(tier string) *AppError {
	return &AppError{
		Code:    ErrSummaryExists,
		Message: fmt.Sprintf("%s summary already exists for period", tier),
	}
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsFatal reports whether err must abort the request without partial content.
func IsFatal(err error) bool {
	return IsCode(err, ErrIsolationViolation)
}
