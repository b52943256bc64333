// Package registry holds the configured shares and resolves tree connects
// to device contexts.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/internal/logger"
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/platform"
)

var (
	ErrShareNotFound = errors.New("share not found")
	ErrShareExists   = errors.New("share already exists")
	ErrAccessDenied  = errors.New("share access denied")
)

// Registry manages all configured shares. Share names are matched
// case-insensitively. IPC$ is always present and cannot be removed.
//
// Example usage:
//
//	reg := registry.NewRegistry(drivers.Default(), platform.Default())
//	reg.AddShare(&registry.ShareConfig{
//	    Name:   "public",
//	    Driver: "disk",
//	    Params: "path=/srv/public,readonly=true",
//	})
//
//	share, ctx, err := reg.Connect("PUBLIC", "192.168.1.20")
type Registry struct {
	mu       sync.RWMutex
	drivers  *device.Drivers
	platform platform.Services
	devices  map[string]device.Device // one instance per driver name
	shares   map[string]*Share
}

// NewRegistry creates a registry holding only IPC$.
func NewRegistry(drivers *device.Drivers, ps platform.Services) *Registry {
	if ps == nil {
		ps = platform.Noop{}
	}
	r := &Registry{
		drivers:  drivers,
		platform: ps,
		devices:  make(map[string]device.Device),
		shares:   make(map[string]*Share),
	}
	r.shares[shareKey(IPCShareName)] = &Share{
		Name:    IPCShareName,
		Type:    ShareTypeIPC,
		Comment: "Remote IPC",
	}
	return r
}

// AddShare registers a disk share. The driver must exist, but the params
// are not parsed until the first connect.
func (r *Registry) AddShare(config *ShareConfig) error {
	if config.Name == "" {
		return fmt.Errorf("cannot add share with empty name")
	}
	if strings.ContainsAny(config.Name, `\/:*?"<>|`) {
		return fmt.Errorf("share name %q contains reserved characters", config.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := shareKey(config.Name)
	if _, exists := r.shares[key]; exists {
		return fmt.Errorf("%w: %q", ErrShareExists, config.Name)
	}

	driver := strings.ToLower(config.Driver)
	dev, ok := r.devices[driver]
	if !ok {
		var err error
		dev, err = r.drivers.New(driver, device.Options{Platform: r.platform})
		if err != nil {
			return fmt.Errorf("share %q: %w", config.Name, err)
		}
		r.devices[driver] = dev
	}

	r.shares[key] = &Share{
		Name:           config.Name,
		Driver:         driver,
		Params:         config.Params,
		Comment:        config.Comment,
		Hidden:         config.Hidden,
		Type:           ShareTypeDisk,
		MaxUses:        config.MaxUses,
		AllowedClients: slices.Clone(config.AllowedClients),
		DeniedClients:  slices.Clone(config.DeniedClients),
		device:         dev,
	}
	logger.Debug("Share registered", logger.KeyShare, config.Name, logger.KeyDriver, driver)
	return nil
}

// RemoveShare removes a share. Open trees keep their context until closed.
func (r *Registry) RemoveShare(name string) error {
	if strings.EqualFold(name, IPCShareName) {
		return fmt.Errorf("cannot remove %s", IPCShareName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := shareKey(name)
	if _, exists := r.shares[key]; !exists {
		return fmt.Errorf("%w: %q", ErrShareNotFound, name)
	}
	delete(r.shares, key)
	return nil
}

// GetShare retrieves a share by name.
func (r *Registry) GetShare(name string) (*Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	share, exists := r.shares[shareKey(name)]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrShareNotFound, name)
	}
	return share, nil
}

// Connect resolves name for a client and returns the share with its device
// context, creating and caching the context on first use. IPC$ has no
// context. A *device.ContextError is returned unchanged.
func (r *Registry) Connect(name, clientIP string) (*Share, device.Context, error) {
	share, err := r.GetShare(name)
	if err != nil {
		return nil, nil, err
	}
	if share.Type == ShareTypeIPC {
		return share, nil, nil
	}
	if clientIP != "" && !share.AllowsClient(clientIP) {
		return nil, nil, fmt.Errorf("%w: %s from %s", ErrAccessDenied, share.Name, clientIP)
	}

	c, err := share.instantiate()
	if err != nil {
		logger.Warn("Share context creation failed", logger.KeyShare, share.Name,
			logger.KeyDriver, share.Driver, logger.KeyError, err)
		return nil, nil, err
	}
	return share, c, nil
}

// ListShares returns all shares sorted by name, IPC$ included.
func (r *Registry) ListShares() []*Share {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shares := make([]*Share, 0, len(r.shares))
	for _, s := range r.shares {
		shares = append(shares, s)
	}
	slices.SortFunc(shares, func(a, b *Share) int {
		return strings.Compare(shareKey(a.Name), shareKey(b.Name))
	})
	return shares
}

// CountShares returns the number of registered shares.
func (r *Registry) CountShares() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shares)
}

// ShareExists checks if a share with the given name exists.
func (r *Registry) ShareExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.shares[shareKey(name)]
	return exists
}
