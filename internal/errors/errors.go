// Package errors defines the closed set of error kinds the engine raises.
//
// Grounded on refactor_code/pkg/errors/errors.go's DatabaseError{Code,Message,Cause}
// shape; generalized to the error kinds spec.md §7 enumerates and given
// errors.Is-compatible sentinels so callers can match on kind without string
// comparison.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies one of the engine's closed set of error kinds.
type Code int

const (
	CodeUnknown Code = iota
	CodeKeyExists
	CodeNotFound
	CodeInvalidDatabase
	CodeInvalidTransaction
	CodeTransactionNotActive
	CodeInvalidDataType
	CodeInvalidSize
	CodeDiskWriteError
	CodeLockTimeout
	CodeDeadlockDetected
	CodePageFull
)

func (c Code) String() string {
	switch c {
	case CodeKeyExists:
		return "KeyExists"
	case CodeNotFound:
		return "NotFound"
	case CodeInvalidDatabase:
		return "InvalidDatabase"
	case CodeInvalidTransaction:
		return "InvalidTransaction"
	case CodeTransactionNotActive:
		return "TransactionNotActive"
	case CodeInvalidDataType:
		return "InvalidDataType"
	case CodeInvalidSize:
		return "InvalidSize"
	case CodeDiskWriteError:
		return "DiskWriteError"
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeDeadlockDetected:
		return "DeadlockDetected"
	case CodePageFull:
		return "PageFull"
	default:
		return "Unknown"
	}
}

// EngineError is the single error type the engine returns. It carries a Code
// so callers can branch with errors.Is against the sentinels below, plus an
// optional human-readable message and wrapped cause.
type EngineError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("shimmer: %s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("shimmer: %s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements the errors.Is matching protocol so EngineErrors compare by
// Code alone, ignoring Message/Cause.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds an EngineError of the given kind.
func New(code Code, message string) error {
	return &EngineError{Code: code, Message: message}
}

// Wrap builds an EngineError of the given kind around a cause.
func Wrap(code Code, message string, cause error) error {
	return &EngineError{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is matching. Only Code is compared.
var (
	ErrKeyExists            = &EngineError{Code: CodeKeyExists}
	ErrNotFound             = &EngineError{Code: CodeNotFound}
	ErrInvalidDatabase      = &EngineError{Code: CodeInvalidDatabase}
	ErrInvalidTransaction   = &EngineError{Code: CodeInvalidTransaction}
	ErrTransactionNotActive = &EngineError{Code: CodeTransactionNotActive}
	ErrInvalidDataType      = &EngineError{Code: CodeInvalidDataType}
	ErrInvalidSize          = &EngineError{Code: CodeInvalidSize}
	ErrDiskWriteError       = &EngineError{Code: CodeDiskWriteError}
	ErrLockTimeout          = &EngineError{Code: CodeLockTimeout}
	ErrDeadlockDetected     = &EngineError{Code: CodeDeadlockDetected}
	ErrPageFull             = &EngineError{Code: CodePageFull}
)

// CodeOf extracts the Code of err if it is (or wraps) an *EngineError.
func CodeOf(err error) Code {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
