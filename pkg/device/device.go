// Package device is the seam between the SMB engine and the stores that
// back shares. A Device turns a share's parameter string into a Context
// and is told when trees open and close. New stores plug in by
// implementing Device and registering a driver; the protocol engine never
// inspects concrete types.
package device

import (
	"context"
	"errors"
	"time"
)

// SessionInfo identifies the session behind a lifecycle call.
type SessionInfo struct {
	ID     uint64
	User   string
	Domain string
	Client string
}

// TreeInfo identifies the tree behind a lifecycle call.
type TreeInfo struct {
	ID      uint32
	Share   string
	Context Context
}

// Device creates share contexts and receives tree lifecycle callbacks.
//
// CreateContext validates params and must not touch the backing store.
// TreeOpened and TreeClosed are not deduplicated here; the session layer
// calls each exactly once per tree.
type Device interface {
	CreateContext(params string) (Context, error)
	TreeOpened(sess SessionInfo, tree TreeInfo)
	TreeClosed(sess SessionInfo, tree TreeInfo)
}

// Context is a validated, ready to use share instantiation.
type Context interface {
	// Driver names the driver that created the context.
	Driver() string
	// Describe is a short human-readable location, e.g. a path or bucket.
	Describe() string
	// ReadOnly reports whether writes must be refused.
	ReadOnly() bool
}

// FileInfo describes a file opened through a FileSystem.
type FileInfo struct {
	Name    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

var (
	// ErrNotFound is returned when a file does not exist.
	ErrNotFound = errors.New("device: file not found")
	// ErrReadOnly is returned for writes on a read-only share.
	ErrReadOnly = errors.New("device: share is read-only")
	// ErrQuotaExceeded is returned when a store is full.
	ErrQuotaExceeded = errors.New("device: quota exceeded")
	// ErrNotReady is returned when a context's backing store is unusable.
	ErrNotReady = errors.New("device: store not ready")
)

// FileSystem is implemented by contexts that expose files to CREATE.
// Names use forward slashes and are relative to the share root.
type FileSystem interface {
	Open(ctx context.Context, name string, create bool) (FileInfo, error)
}

// Space is implemented by contexts that can report capacity.
type Space interface {
	Space(ctx context.Context) (total, free uint64, err error)
}
