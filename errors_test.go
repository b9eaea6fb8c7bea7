package orm

import (
	"errors"
	"fmt"
	"testing"
)

func TestError(t *testing.T) {
	err := Error{
		Type:    ErrorTypeValidation,
		Message: "validation failed",
		Code:    "INVALID_PLATFORM",
	}

	if err.Type != ErrorTypeValidation {
		t.Errorf("Expected error type validation, got %s", err.Type)
	}
	if err.Code != "INVALID_PLATFORM" {
		t.Errorf("Expected code 'INVALID_PLATFORM', got '%s'", err.Code)
	}
	if err.Error() != "validation: validation failed" {
		t.Errorf("Unexpected error message '%s'", err.Error())
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := errors.New("database connection failed")
	err := NewErrorWithCause(ErrorTypeConnection, "failed to connect", cause)

	if err.Unwrap() != cause {
		t.Error("Expected unwrapped error to match original cause")
	}

	expectedMsg := "connection: failed to connect (caused by: database connection failed)"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message '%s', got '%s'", expectedMsg, err.Error())
	}
}

func TestErrorIs(t *testing.T) {
	err1 := NewError(ErrorTypeMapping, "duplicate property Name")
	err2 := NewError(ErrorTypeMapping, "unknown entity Zoo")
	err3 := NewError(ErrorTypeNotFound, "Zoo 1 not found")

	if !errors.Is(err1, err2) {
		t.Error("Expected errors with same type to be equal")
	}
	if errors.Is(err1, err3) {
		t.Error("Expected errors with different types to not be equal")
	}
}

func TestNewErrorWithCode(t *testing.T) {
	err := NewErrorWithCode(ErrorTypeDataAccess, "insert failed", "23505")

	if err.Type != ErrorTypeDataAccess {
		t.Errorf("Expected error type data_access, got %s", err.Type)
	}
	if err.Code != "23505" {
		t.Errorf("Expected code '23505', got '%s'", err.Code)
	}
	if err.Cause != nil {
		t.Error("Expected no cause")
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		match ErrorType
	}{
		{"IsMapping", IsMapping, ErrorTypeMapping},
		{"IsUnsupported", IsUnsupported, ErrorTypeUnsupported},
		{"IsDataAccess", IsDataAccess, ErrorTypeDataAccess},
		{"IsNotFound", IsNotFound, ErrorTypeNotFound},
		{"IsValidation", IsValidation, ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(NewError(tt.match, "x")) {
				t.Errorf("Expected %s to match %s", tt.name, tt.match)
			}
			if tt.check(NewError(ErrorTypeInternal, "x")) {
				t.Errorf("Expected %s to reject internal errors", tt.name)
			}
			if tt.check(errors.New("regular error")) {
				t.Errorf("Expected %s to reject untyped errors", tt.name)
			}
		})
	}
}

func TestIsErrorTypeWrapped(t *testing.T) {
	err := fmt.Errorf("Animal.Zoo: %w", NewError(ErrorTypeSerialization, "cannot convert"))
	if !IsErrorType(err, ErrorTypeSerialization) {
		t.Error("Expected IsErrorType to look through wrapping")
	}
}

func TestDataAccessError(t *testing.T) {
	if dataAccessError("query failed", nil) != nil {
		t.Error("Expected nil cause to give nil error")
	}

	wrapped := dataAccessError("query failed", errors.New("syntax error"))
	if !IsDataAccess(wrapped) {
		t.Errorf("Expected data access error, got %v", wrapped)
	}

	typed := NewError(ErrorTypeConnection, "engine has no database")
	if got := dataAccessError("query failed", typed); got != error(typed) {
		t.Errorf("Expected typed error to pass through, got %v", got)
	}
}

func TestErrUnsupported(t *testing.T) {
	err := ErrUnsupported("views")
	if !IsUnsupported(err) {
		t.Errorf("Expected unsupported error, got %v", err)
	}
	if err.Error() != "unsupported: views is not supported" {
		t.Errorf("Unexpected message '%s'", err.Error())
	}
}

func TestChainedErrors(t *testing.T) {
	rootCause := errors.New("root cause")
	middleError := NewErrorWithCause(ErrorTypeConnection, "connection failed", rootCause)
	topError := NewErrorWithCause(ErrorTypeDataAccess, "query failed", middleError)

	if !errors.Is(topError, middleError) {
		t.Error("Expected errors.Is to find middle error in chain")
	}
	if !errors.Is(topError, rootCause) {
		t.Error("Expected errors.Is to find root cause in chain")
	}
}
