package device

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a ContextError.
type ErrorCode int

const (
	// ErrSyntax means the parameter string is structurally invalid.
	ErrSyntax ErrorCode = iota + 1
	// ErrMissingParam means a required key is absent.
	ErrMissingParam
	// ErrInvalidValue means a value failed validation.
	ErrInvalidValue
	// ErrUnknownParam means a key the driver does not accept.
	ErrUnknownParam
	// ErrUnknownDriver means no driver is registered under the name.
	ErrUnknownDriver
)

func (c ErrorCode) String() string {
	switch c {
	case ErrSyntax:
		return "Syntax"
	case ErrMissingParam:
		return "MissingParam"
	case ErrInvalidValue:
		return "InvalidValue"
	case ErrUnknownParam:
		return "UnknownParam"
	case ErrUnknownDriver:
		return "UnknownDriver"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// ErrContext matches every *ContextError via errors.Is.
var ErrContext = errors.New("device: context error")

// ContextError reports why a share could not be instantiated.
type ContextError struct {
	Code    ErrorCode
	Driver  string
	Key     string
	Message string
}

func (e *ContextError) Error() string {
	var b []byte
	b = fmt.Appendf(b, "device")
	if e.Driver != "" {
		b = fmt.Appendf(b, " %s", e.Driver)
	}
	b = fmt.Appendf(b, ": %s", e.Code)
	if e.Key != "" {
		b = fmt.Appendf(b, " %q", e.Key)
	}
	if e.Message != "" {
		b = fmt.Appendf(b, ": %s", e.Message)
	}
	return string(b)
}

// Is matches ErrContext and any *ContextError with the same Code.
func (e *ContextError) Is(target error) bool {
	if target == ErrContext {
		return true
	}
	var ce *ContextError
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

// NewContextError builds a ContextError with a formatted message.
func NewContextError(code ErrorCode, driver, key, format string, args ...any) *ContextError {
	return &ContextError{Code: code, Driver: driver, Key: key, Message: fmt.Sprintf(format, args...)}
}

// IsContextError reports whether err is a *ContextError.
func IsContextError(err error) bool {
	var ce *ContextError
	return errors.As(err, &ce)
}
