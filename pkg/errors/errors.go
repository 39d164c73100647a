// Package errors carries the typed error codes shared by services and the
// HTTP layer. Each Code maps to one HTTP status and public message.
package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	// CodeGateway marks a failed call to the payment provider.
	CodeGateway Code = "GATEWAY_ERROR"
	// CodeInsufficientBalance is the gateway failure a fulfiller can act on:
	// the platform balance cannot cover the requested transfer yet.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:        {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:           {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:            {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:            {http.StatusConflict, false, "conflict detected", false},
	CodeIdempotency:         {http.StatusConflict, false, "idempotency key reused", true},
	CodeRateLimit:           {http.StatusTooManyRequests, false, "rate limit exceeded", false},
	CodeInternal:            {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:          {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	CodeGateway:             {http.StatusBadGateway, true, "payment provider error", false},
	CodeInsufficientBalance: {http.StatusConflict, true, "payouts are temporarily unavailable, please try again later", false},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

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

// WithDetails attaches client-visible details; they are only rendered for
// codes whose metadata allows it.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Error includes the cause so logs show the full chain on one line.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code, so New(CodeNotFound, "") works as a
// sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && t.code == e.code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// Retryable reports whether a caller may retry err unchanged.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	if fields, ok := PG(err); ok {
		return isTransientPG(fields.Code)
	}
	return false
}
