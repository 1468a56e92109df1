// Package domain holds the types shared by every stage of a conversion:
// supported formats, request sources, jobs and classified errors.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping and metrics.
type Kind string

const (
	KindInput         Kind = "input"
	KindAcquisition   Kind = "acquisition"
	KindConfiguration Kind = "configuration"
	KindConversion    Kind = "conversion"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeMissingPayload    Code = "MISSING_PAYLOAD"
	CodeEmptyPayload      Code = "EMPTY_PAYLOAD"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeInvalidURL        Code = "INVALID_URL"
	CodeFormatMismatch    Code = "FORMAT_MISMATCH"
	CodeInvalidMethod     Code = "INVALID_METHOD"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeDownloadFailed    Code = "DOWNLOAD_FAILED"
	CodeEngineNotFound    Code = "ENGINE_NOT_FOUND"
	CodeConversionFailed  Code = "CONVERSION_FAILED"
	CodeOutputNotFound    Code = "OUTPUT_NOT_FOUND"
	CodeAmbiguousOutput   Code = "AMBIGUOUS_OUTPUT"
	CodeTimeout           Code = "TIMEOUT"
	CodeInternal          Code = "INTERNAL_ERROR"
)

var codeKinds = map[Code]Kind{
	CodeMissingPayload:    KindInput,
	CodeEmptyPayload:      KindInput,
	CodeUnsupportedFormat: KindInput,
	CodeInvalidURL:        KindInput,
	CodeFormatMismatch:    KindInput,
	CodeInvalidMethod:     KindInput,
	CodePayloadTooLarge:   KindInput,
	CodeDownloadFailed:    KindAcquisition,
	CodeEngineNotFound:    KindConfiguration,
	CodeConversionFailed:  KindConversion,
	CodeOutputNotFound:    KindConversion,
	CodeAmbiguousOutput:   KindConversion,
	CodeTimeout:           KindTimeout,
	CodeInternal:          KindInternal,
}

// Error is a classified conversion error. Message is safe to show to
// clients; Err carries the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError creates a classified error.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf creates a classified error without a cause.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the error class of the code. Unknown codes are internal.
func (e *Error) Kind() Kind {
	if k, ok := codeKinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// HTTPStatus maps the error class to a response status: 400 for input
// errors, 500 for everything else.
func (e *Error) HTTPStatus() int {
	if e.Kind() == KindInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// AsError returns the *Error in err's chain, or wraps err as INTERNAL_ERROR.
// It returns nil for a nil err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// CodeOf returns the code of err, INTERNAL_ERROR for unclassified errors,
// or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsError(err).Code
}
