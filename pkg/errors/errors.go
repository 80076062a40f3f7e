package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures crossing a component boundary
type ErrorType string

const (
	ErrorTypeLockBusy         ErrorType = "lock_busy"
	ErrorTypeBrowserStart     ErrorType = "browser_start"
	ErrorTypeScanTimeout      ErrorType = "scan_timeout"
	ErrorTypeExtraction       ErrorType = "extraction"
	ErrorTypeProviderProtocol ErrorType = "provider_protocol"
	ErrorTypeNetwork          ErrorType = "network"
	ErrorTypeParsing          ErrorType = "parsing"
	ErrorTypeUnauthenticated  ErrorType = "unauthenticated"
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeStorage          ErrorType = "storage"
	ErrorTypeUnknown          ErrorType = "unknown"
)

// Error is a typed failure. For provider protocol errors Code carries the
// provider's ret value and Message its err_msg verbatim.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given type
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap creates an error of the given type around a cause
func Wrap(t ErrorType, err error, message string) *Error {
	return &Error{Type: t, Message: message, Err: err}
}

// Protocol creates a provider protocol error from the provider's envelope
func Protocol(ret int, errMsg string) *Error {
	return &Error{Type: ErrorTypeProviderProtocol, Code: ret, Message: errMsg}
}

// TypeOf returns the type of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// As is a re-export of the standard library's errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a re-export of the standard library's errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// IsRetryable checks if an error type may succeed when re-attempted by the caller
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
