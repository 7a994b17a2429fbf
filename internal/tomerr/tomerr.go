// Package tomerr defines the stable error codes surfaced by the API and the
// helpers for mapping internal failures onto them.
package tomerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable string identifier carried in error envelopes. Codes are
// part of the public API contract and must not change between releases.
type Code string

const (
	CodeInvalidQuery        Code = "INVALID_QUERY"
	CodeInvalidISBN         Code = "INVALID_ISBN"
	CodeMissingParameter    Code = "MISSING_PARAMETER"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeProviderError       Code = "PROVIDER_ERROR"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeFileTooLarge        Code = "FILE_TOO_LARGE"
	CodeEmptyBatch          Code = "E_EMPTY_BATCH"
	CodeCSVProcessingFailed Code = "E_CSV_PROCESSING_FAILED"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeVersionConflict     Code = "VERSION_CONFLICT"
)

// Error is an error with a stable code and optional structured details.
// Details must never contain secrets (API keys, capability tokens).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// CodeOf extracts the stable code from err, or INTERNAL_ERROR if it does not
// carry one.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternalError
}

// HTTPStatus maps a code to its response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidQuery, CodeInvalidISBN, CodeMissingParameter, CodeEmptyBatch,
		CodeCSVProcessingFailed, CodeInvalidTransition:
		return http.StatusBadRequest
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeVersionConflict:
		return http.StatusConflict
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
