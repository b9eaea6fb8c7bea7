package orm

import (
	"errors"
	"fmt"
)

// =====================================
// Error Handling
// =====================================

// ErrorType represents different classes of errors the mapper reports
type ErrorType string

const (
	// ErrorTypeMapping marks configuration-time defects in the metadata graph
	ErrorTypeMapping ErrorType = "mapping"
	// ErrorTypeUnsupported marks capabilities that are not implemented
	ErrorTypeUnsupported ErrorType = "unsupported"
	// ErrorTypeDataAccess wraps a failed database round trip
	ErrorTypeDataAccess      ErrorType = "data_access"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeConnection      ErrorType = "connection"
	ErrorTypeSerialization   ErrorType = "serialization"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeInternal        ErrorType = "internal"
)

// Error represents an error raised by the mapper
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Code    string
}

// Error implements the error interface
func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e Error) Is(target error) bool {
	if targetErr, ok := target.(Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// NewError creates a new Error
func NewError(errorType ErrorType, message string) Error {
	return Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error with a cause
func NewErrorWithCause(errorType ErrorType, message string, cause error) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewErrorWithCode creates a new Error with a code
func NewErrorWithCode(errorType ErrorType, message string, code string) Error {
	return Error{
		Type:    errorType,
		Message: message,
		Code:    code,
	}
}

// mappingError is shorthand for the most common configuration failure
func mappingError(format string, args ...interface{}) Error {
	return NewError(ErrorTypeMapping, fmt.Sprintf(format, args...))
}

// dataAccessError wraps a database failure. Errors that are already typed
// pass through unchanged so callers see one layer of wrapping.
func dataAccessError(message string, cause error) error {
	if cause == nil {
		return nil
	}
	var typed Error
	if errors.As(cause, &typed) {
		return cause
	}
	return NewErrorWithCause(ErrorTypeDataAccess, message, cause)
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errorType ErrorType) bool {
	var typed Error
	if errors.As(err, &typed) {
		return typed.Type == errorType
	}
	return false
}

// IsMapping checks if an error is a "mapping" error
func IsMapping(err error) bool {
	return IsErrorType(err, ErrorTypeMapping)
}

// IsUnsupported checks if an error is an "unsupported" error
func IsUnsupported(err error) bool {
	return IsErrorType(err, ErrorTypeUnsupported)
}

// IsDataAccess checks if an error is a "data access" error
func IsDataAccess(err error) bool {
	return IsErrorType(err, ErrorTypeDataAccess)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return IsErrorType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a "validation" error
func IsValidation(err error) bool {
	return IsErrorType(err, ErrorTypeValidation)
}
