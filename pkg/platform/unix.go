//go:build linux || darwin || freebsd || netbsd || openbsd

package platform

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Unix implements Services with statfs(2).
type Unix struct{}

func native() Services { return Unix{} }

func (Unix) Name() string { return "unix" }

func (Unix) DiskUsage(ctx context.Context, path string) (DiskUsage, error) {
	if err := ctx.Err(); err != nil {
		return DiskUsage{}, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return DiskUsage{
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bfree) * bsize,
		AvailBytes: uint64(st.Bavail) * bsize,
		BlockSize:  uint32(bsize),
	}, nil
}
