package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-facing error identifier.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeNotFound               Code = "NOT_FOUND"
	CodeConflict               Code = "CONFLICT"
	CodeInsufficientStock      Code = "INSUFFICIENT_STOCK"
	CodeInvalidAdjustment      Code = "INVALID_ADJUSTMENT"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeIdempotency            Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit              Code = "RATE_LIMITED"
	CodeInternal               Code = "INTERNAL_ERROR"
	CodeDependency             Code = "DEPENDENCY_ERROR"
)

// Metadata drives how a code is rendered over HTTP. Codes without
// DetailsAllowed never expose their details or internal message.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

type visibility bool

const (
	withDetails visibility = true
	opaque      visibility = false
)

func meta(status int, retryable bool, public string, vis visibility) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: bool(vis)}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:             meta(http.StatusBadRequest, false, "validation failed", withDetails),
	CodeUnauthorized:           meta(http.StatusUnauthorized, false, "authentication required", opaque),
	CodeForbidden:              meta(http.StatusForbidden, false, "access denied", opaque),
	CodeNotFound:               meta(http.StatusNotFound, false, "resource not found", opaque),
	CodeConflict:               meta(http.StatusConflict, false, "conflict detected", opaque),
	CodeInsufficientStock:      meta(http.StatusConflict, false, "insufficient stock", withDetails),
	CodeInvalidAdjustment:      meta(http.StatusUnprocessableEntity, false, "stock adjustment rejected", withDetails),
	CodeInvalidTransition:      meta(http.StatusUnprocessableEntity, false, "state transition disallowed", withDetails),
	CodeConcurrentModification: meta(http.StatusConflict, true, "record changed concurrently", opaque),
	CodeIdempotency:            meta(http.StatusConflict, false, "idempotency key reuse detected", opaque),
	CodeRateLimit:              meta(http.StatusTooManyRequests, true, "too many requests", opaque),
	CodeInternal:               meta(http.StatusInternalServerError, true, "internal server error", opaque),
	CodeDependency:             meta(http.StatusServiceUnavailable, true, "dependency unavailable", withDetails),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error carrying an optional cause and structured details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code so callers can test against sentinels
// built with New.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e != nil && other != nil && e.code == other.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost coded error in err's chain has code.
func IsCode(err error, code Code) bool {
	return As(err).codeOr("") == code
}

// CodeOf returns err's code, CodeInternal for uncoded errors, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).codeOr(CodeInternal)
}

// Retryable reports whether the client may retry the failed call as-is.
func Retryable(err error) bool {
	return err != nil && MetadataFor(CodeOf(err)).Retryable
}

func (e *Error) codeOr(fallback Code) Code {
	if e == nil {
		return fallback
	}
	return e.code
}
