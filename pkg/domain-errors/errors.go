// Package domainerrors defines coded errors shared across services so
// transport adapters can map failures to a status without inspecting
// free-form messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeBadRequest    Code = "bad_request"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeExpired       Code = "expired"
	CodeForbidden     Code = "forbidden"
	CodeInternal      Code = "internal_error"
	CodeSpecInvalid   Code = "spec_invalid"
	CodeAliasConflict Code = "alias_conflict"
	CodeAliasUnknown  Code = "alias_unknown"
)

// Error carries a machine-readable code alongside a human-readable message.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New constructs a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause so errors.Is/As keep working through the translation
// from infrastructure sentinels to domain codes.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the domain code from an error chain, defaulting to
// CodeInternal for unclassified failures.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to the transport-level status the web
// adapter should emit. SpecInvalid deliberately maps to 500, not 404, so
// operators can tell a broken form definition apart from a missing one.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeAliasUnknown:
		return http.StatusNotFound
	case CodeConflict, CodeAliasConflict:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeForbidden:
		return http.StatusForbidden
	case CodeSpecInvalid, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
