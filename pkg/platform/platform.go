// Package platform hides host specific services from the device drivers.
package platform

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by services the host cannot provide.
var ErrUnsupported = errors.New("platform: unsupported")

// DiskUsage describes the filesystem holding a path.
type DiskUsage struct {
	TotalBytes uint64
	FreeBytes  uint64
	// AvailBytes is what an unprivileged caller may use.
	AvailBytes uint64
	BlockSize  uint32
}

// Services are the host facilities drivers may use.
type Services interface {
	// DiskUsage reports usage of the filesystem containing path.
	DiskUsage(ctx context.Context, path string) (DiskUsage, error)
	// Name identifies the implementation in logs.
	Name() string
}

// Noop reports nothing; every query returns ErrUnsupported.
type Noop struct{}

func (Noop) DiskUsage(context.Context, string) (DiskUsage, error) {
	return DiskUsage{}, ErrUnsupported
}

func (Noop) Name() string { return "noop" }

// Default returns the best implementation for the running host.
func Default() Services {
	if s := native(); s != nil {
		return s
	}
	return Noop{}
}
