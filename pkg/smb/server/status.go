package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittocifs/pkg/dcerpc"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/locking"
	"github.com/marmos91/dittocifs/pkg/platform"
	"github.com/marmos91/dittocifs/pkg/registry"
	"github.com/marmos91/dittocifs/pkg/smb/header"
	"github.com/marmos91/dittocifs/pkg/smb/session"
	"github.com/marmos91/dittocifs/pkg/smb/types"
)

// StatusError carries an explicit NT status out of a handler.
type StatusError struct {
	Status types.Status
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Msg
}

func statusErr(s types.Status, format string, args ...any) error {
	return &StatusError{Status: s, Msg: fmt.Sprintf(format, args...)}
}

// StatusFor maps an internal error to the NT status sent to the client.
// It is the only place the server translates errors.
func StatusFor(err error) types.Status {
	if err == nil {
		return types.StatusSuccess
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}

	switch {
	// tree connect: checked before the device errors it may wrap
	case errors.Is(err, registry.ErrAccessDenied):
		return types.StatusAccessDenied
	case errors.Is(err, session.ErrBadNetworkName),
		errors.Is(err, registry.ErrShareNotFound),
		errors.Is(err, device.ErrContext):
		return types.StatusBadNetworkName
	case errors.Is(err, session.ErrTooManyUses):
		return types.StatusRequestNotAccepted
	case errors.Is(err, session.ErrSessionNotFound):
		return types.StatusUserSessionDeleted
	case errors.Is(err, session.ErrTreeNotFound):
		return types.StatusNetworkNameDeleted

	case errors.Is(err, locking.ErrLockConflict):
		return types.StatusLockNotGranted
	case errors.Is(err, locking.ErrNotLocked):
		return types.StatusRangeNotLocked
	case errors.Is(err, locking.ErrInvalidRange):
		return types.StatusInvalidParameter

	case errors.Is(err, device.ErrNotFound):
		return types.StatusObjectNameNotFound
	case errors.Is(err, device.ErrReadOnly):
		return types.StatusMediaWriteProtected
	case errors.Is(err, device.ErrQuotaExceeded):
		return types.StatusDiskFull
	case errors.Is(err, device.ErrNotReady):
		return types.StatusDeviceNotReady
	case errors.Is(err, platform.ErrUnsupported):
		return types.StatusNotSupported

	case errors.Is(err, header.ErrMessageTooShort),
		errors.Is(err, header.ErrInvalidProtocolID),
		errors.Is(err, header.ErrInvalidHeaderSize),
		errors.Is(err, dcerpc.ErrBuffer),
		errors.Is(err, errMalformed):
		return types.StatusInvalidParameter

	case errors.Is(err, ErrLogonFailure):
		return types.StatusLogonFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.StatusCancelled
	default:
		return types.StatusInternalError
	}
}

// errMalformed marks request bodies that fail to decode.
var errMalformed = errors.New("malformed request")

func malformed(cmd types.Command, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", errMalformed, cmd, fmt.Sprintf(format, args...))
}
