// Package memory is an in-process device used for scratch shares and tests.
//
// Parameters:
//
//	quota=64MiB    optional byte size, 0 or absent means unlimited
//	readonly=true  optional
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittocifs/internal/bytesize"
	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/device"
)

const DriverName = "memory"

// unlimited is reported as total space when no quota is set.
const unlimited = uint64(1) << 40

// Device creates independent in-memory stores, one per context.
type Device struct {
	mu     sync.Mutex
	opened map[*Context]int
}

func New() *Device { return &Device{opened: make(map[*Context]int)} }

func Factory(device.Options) device.Device { return New() }

func (d *Device) CreateContext(params string) (device.Context, error) {
	p, err := device.ParseParams(params)
	if err != nil {
		return nil, err
	}
	v := p.Validate(DriverName)
	quota := v.Size("quota", 0)
	readOnly := v.Bool("readonly", false)
	if err := v.Err(); err != nil {
		return nil, err
	}
	return &Context{
		quota:    uint64(quota),
		readOnly: readOnly,
		files:    make(map[string]*file),
	}, nil
}

func (d *Device) TreeOpened(sess device.SessionInfo, tree device.TreeInfo) {
	if c, ok := tree.Context.(*Context); ok {
		d.mu.Lock()
		d.opened[c]++
		d.mu.Unlock()
	}
	logger.Debug("Memory share opened", logger.KeyShare, tree.Share, logger.KeySessionID, sess.ID)
}

func (d *Device) TreeClosed(sess device.SessionInfo, tree device.TreeInfo) {
	if c, ok := tree.Context.(*Context); ok {
		d.mu.Lock()
		if d.opened[c]--; d.opened[c] <= 0 {
			delete(d.opened, c)
		}
		d.mu.Unlock()
	}
	logger.Debug("Memory share closed", logger.KeyShare, tree.Share, logger.KeySessionID, sess.ID)
}

// OpenTrees returns the number of open trees on c.
func (d *Device) OpenTrees(c device.Context) int {
	mc, ok := c.(*Context)
	if !ok {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened[mc]
}

type file struct {
	data    []byte
	isDir   bool
	modTime time.Time
}

// Context is one in-memory store.
type Context struct {
	quota    uint64
	readOnly bool

	mu    sync.RWMutex
	files map[string]*file
	used  uint64
}

func (c *Context) Driver() string { return DriverName }

func (c *Context) Describe() string {
	if c.quota == 0 {
		return "memory"
	}
	return "memory quota=" + bytesize.ByteSize(c.quota).Exact()
}

func (c *Context) ReadOnly() bool { return c.readOnly }

func normalize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	return strings.ToLower(strings.TrimPrefix(path.Clean("/"+name), "/"))
}

func (c *Context) Open(ctx context.Context, name string, create bool) (device.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return device.FileInfo{}, err
	}
	key := normalize(name)
	if key == "" {
		return device.FileInfo{Name: name, IsDir: true}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[key]
	if !ok {
		if !create {
			return device.FileInfo{}, fmt.Errorf("%w: %s", device.ErrNotFound, name)
		}
		if c.readOnly {
			return device.FileInfo{}, device.ErrReadOnly
		}
		f = &file{modTime: time.Now()}
		c.files[key] = f
	}
	return device.FileInfo{Name: name, Size: int64(len(f.data)), IsDir: f.isDir, ModTime: f.modTime}, nil
}

// Write replaces the content of name, creating it if needed.
func (c *Context) Write(name string, data []byte) error {
	if c.readOnly {
		return device.ErrReadOnly
	}
	key := normalize(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	var prev uint64
	if f, ok := c.files[key]; ok {
		prev = uint64(len(f.data))
	}
	next := c.used - prev + uint64(len(data))
	if c.quota > 0 && next > c.quota {
		return fmt.Errorf("%w: %s needs %d bytes, %d free", device.ErrQuotaExceeded,
			name, len(data), c.quota-c.used+prev)
	}
	c.files[key] = &file{data: append([]byte(nil), data...), modTime: time.Now()}
	c.used = next
	return nil
}

// Mkdir creates a directory entry.
func (c *Context) Mkdir(name string) error {
	if c.readOnly {
		return device.ErrReadOnly
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[normalize(name)] = &file{isDir: true, modTime: time.Now()}
	return nil
}

// Names returns all entries in sorted order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.files))
	for k := range c.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Context) Space(context.Context) (uint64, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.quota == 0 {
		return unlimited, unlimited - c.used, nil
	}
	return c.quota, c.quota - c.used, nil
}
