package locking

import "fmt"

// ErrorCode classifies a LockError.
type ErrorCode int

const (
	// ErrLockConflict means another owner holds an overlapping range.
	ErrLockConflict ErrorCode = iota + 1
	// ErrNotLocked means the unlock range is not held by the caller.
	ErrNotLocked
	// ErrInvalidRange means offset+length overflows.
	ErrInvalidRange
)

func (c ErrorCode) String() string {
	switch c {
	case ErrLockConflict:
		return "LockConflict"
	case ErrNotLocked:
		return "NotLocked"
	case ErrInvalidRange:
		return "InvalidRange"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error makes a bare code usable as an errors.Is target.
func (c ErrorCode) Error() string { return "locking: " + c.String() }

// LockError describes a failed lock or unlock.
type LockError struct {
	Code   ErrorCode
	Offset uint64
	Length uint64
	PID    uint32
	// Holder is the conflicting lock for ErrLockConflict.
	Holder *Lock
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("locking: %s [%d,%s) pid %d", e.Code.String(), e.Offset, endString(e.Offset, e.Length), e.PID)
	if e.Holder != nil {
		msg += fmt.Sprintf(": held by pid %d session %d", e.Holder.PID, e.Holder.SessionID)
	}
	return msg
}

// Is matches the bare ErrorCode and any *LockError with the same code.
func (e *LockError) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return t == e.Code
	case *LockError:
		return t.Code == e.Code
	}
	return false
}

func endString(offset, length uint64) string {
	if length == 0 {
		return "EOF"
	}
	return fmt.Sprint(offset + length)
}
