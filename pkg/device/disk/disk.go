// Package disk serves shares from a directory on the local filesystem.
//
// Parameters:
//
//	path=/abs/dir      required, absolute
//	readonly=true      optional, default false
package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/platform"
)

// DriverName is the registry name of this driver.
const DriverName = "disk"

// Device is the disk driver. One Device may back several shares; open
// trees are counted per root directory.
type Device struct {
	platform platform.Services

	mu   sync.Mutex
	refs map[string]int
}

// New returns a disk driver using ps for capacity queries.
func New(ps platform.Services) *Device {
	if ps == nil {
		ps = platform.Noop{}
	}
	return &Device{platform: ps, refs: make(map[string]int)}
}

// Factory adapts New to device.Factory.
func Factory(opts device.Options) device.Device { return New(opts.Platform) }

// CreateContext validates params without touching the filesystem.
func (d *Device) CreateContext(params string) (device.Context, error) {
	p, err := device.ParseParams(params)
	if err != nil {
		return nil, err
	}
	v := p.Validate(DriverName)
	root := v.Required("path")
	readOnly := v.Bool("readonly", false)
	if root != "" {
		v.Check(filepath.IsAbs(root), "path", "%q is not absolute", root)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &Context{root: filepath.Clean(root), readOnly: readOnly, platform: d.platform}, nil
}

func (d *Device) TreeOpened(sess device.SessionInfo, tree device.TreeInfo) {
	c, ok := tree.Context.(*Context)
	if !ok {
		return
	}
	d.mu.Lock()
	d.refs[c.root]++
	n := d.refs[c.root]
	d.mu.Unlock()
	logger.Debug("Disk share opened", logger.KeyShare, tree.Share, logger.KeyPath, c.root,
		logger.KeySessionID, sess.ID, "open_trees", n)
}

func (d *Device) TreeClosed(sess device.SessionInfo, tree device.TreeInfo) {
	c, ok := tree.Context.(*Context)
	if !ok {
		return
	}
	d.mu.Lock()
	d.refs[c.root]--
	n := d.refs[c.root]
	if n <= 0 {
		delete(d.refs, c.root)
	}
	d.mu.Unlock()
	logger.Debug("Disk share closed", logger.KeyShare, tree.Share, logger.KeyPath, c.root,
		logger.KeySessionID, sess.ID, "open_trees", n)
}

// OpenTrees returns the number of open trees rooted at root.
func (d *Device) OpenTrees(root string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs[filepath.Clean(root)]
}

// Context is a directory share.
type Context struct {
	root     string
	readOnly bool
	platform platform.Services
}

func (c *Context) Driver() string   { return DriverName }
func (c *Context) Describe() string { return c.root }
func (c *Context) ReadOnly() bool   { return c.readOnly }

// Root returns the share directory.
func (c *Context) Root() string { return c.root }

// resolve maps a share-relative name to a host path that cannot leave root.
func (c *Context) resolve(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	clean := path.Clean("/" + name)
	if clean == "/" {
		return c.root, nil
	}
	full := filepath.Join(c.root, filepath.FromSlash(clean[1:]))
	if !within(c.root, full) {
		return "", fmt.Errorf("%w: %q escapes the share", device.ErrNotFound, name)
	}
	return c.confine(full, name)
}

// confine follows symlinks in full and rejects a target outside the root.
// A missing last component is resolved through its parent so that it can
// still be created.
func (c *Context) confine(full, name string) (string, error) {
	root, err := filepath.EvalSymlinks(c.root)
	if err != nil {
		root = c.root
	}
	target, err := filepath.EvalSymlinks(full)
	if errors.Is(err, fs.ErrNotExist) {
		var dir string
		dir, err = filepath.EvalSymlinks(filepath.Dir(full))
		target = filepath.Join(dir, filepath.Base(full))
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	if !within(root, target) {
		return "", fmt.Errorf("%w: %q escapes the share", device.ErrNotFound, name)
	}
	return target, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Open stats name, creating an empty file first when create is set.
func (c *Context) Open(ctx context.Context, name string, create bool) (device.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return device.FileInfo{}, err
	}
	full, err := c.resolve(name)
	if err != nil {
		return device.FileInfo{}, err
	}

	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) && create {
		if c.readOnly {
			return device.FileInfo{}, device.ErrReadOnly
		}
		f, cerr := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if cerr != nil {
			return device.FileInfo{}, fmt.Errorf("create %s: %w", name, cerr)
		}
		_ = f.Close()
		st, err = os.Stat(full)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return device.FileInfo{}, fmt.Errorf("%w: %s", device.ErrNotFound, name)
	}
	if err != nil {
		return device.FileInfo{}, err
	}
	return device.FileInfo{Name: name, Size: st.Size(), IsDir: st.IsDir(), ModTime: st.ModTime()}, nil
}

// Space reports capacity through the platform services.
func (c *Context) Space(ctx context.Context) (uint64, uint64, error) {
	u, err := c.platform.DiskUsage(ctx, c.root)
	if err != nil {
		return 0, 0, err
	}
	return u.TotalBytes, u.AvailBytes, nil
}
