package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in Lingua.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001
	ErrCodeAddonInvalid  ErrorCode = 1002

	// Script resolution
	ErrCodeScriptNotFound      ErrorCode = 2001
	ErrCodeScriptCompile       ErrorCode = 2002
	ErrCodeLanguageUnsupported ErrorCode = 2003

	// Invocation
	ErrCodeInitVetoed      ErrorCode = 3001
	ErrCodeExecutionFailed ErrorCode = 3002
	ErrCodeStopTimeout     ErrorCode = 3003
	ErrCodeShuttingDown    ErrorCode = 3004

	// Cleanup scheduling
	ErrCodeCleanupLoad ErrorCode = 4001

	// Registry
	ErrCodeInvokerNotFound ErrorCode = 5001
)

// LinguaError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type LinguaError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *LinguaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *LinguaError) Unwrap() error {
	return e.Err
}

// New creates a new LinguaError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &LinguaError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the first LinguaError in err's chain,
// or ErrCodeUnknown when there is none.
func CodeOf(err error) ErrorCode {
	var le *LinguaError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ErrCodeUnknown
}

// Personal.AI order the ending
