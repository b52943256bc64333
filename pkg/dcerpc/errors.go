package dcerpc

import (
	"errors"
	"fmt"
)

// ErrorCode classifies codec failures.
type ErrorCode int

const (
	// ErrBufferExhausted means a read ran past the end of the buffer.
	ErrBufferExhausted ErrorCode = iota + 1

	// ErrInvalidLength means a decoded count or offset is inconsistent with
	// the surrounding structure (actual > max, nonzero offset, array max
	// count differing from the element count).
	ErrInvalidLength

	// ErrMalformedPDU means the PDU header is not a connection-oriented
	// DCE/RPC v5 header.
	ErrMalformedPDU
)

func (c ErrorCode) String() string {
	switch c {
	case ErrBufferExhausted:
		return "BufferExhausted"
	case ErrInvalidLength:
		return "InvalidLength"
	case ErrMalformedPDU:
		return "MalformedPDU"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// ErrBuffer matches every *BufferError via errors.Is.
var ErrBuffer = errors.New("dcerpc: buffer error")

// BufferError is the typed failure of every decode operation. A DCE stream
// that produced a BufferError must be abandoned.
type BufferError struct {
	Code    ErrorCode
	Offset  int
	Message string
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("dcerpc: %s at offset %d: %s", e.Code, e.Offset, e.Message)
}

// Is reports whether target is ErrBuffer or a *BufferError with the same code.
func (e *BufferError) Is(target error) bool {
	if target == ErrBuffer {
		return true
	}
	var be *BufferError
	if errors.As(target, &be) {
		return be.Code == e.Code
	}
	return false
}

// IsExhausted reports whether err is a buffer exhaustion failure.
func IsExhausted(err error) bool {
	var be *BufferError
	return errors.As(err, &be) && be.Code == ErrBufferExhausted
}

func newBufferError(code ErrorCode, off int, format string, args ...any) *BufferError {
	return &BufferError{Code: code, Offset: off, Message: fmt.Sprintf(format, args...)}
}
