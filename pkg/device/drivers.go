package device

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/dittocifs/pkg/platform"
)

// Options are handed to every driver factory.
type Options struct {
	Platform platform.Services
}

// Factory builds a Device for one share.
type Factory func(Options) Device

// Drivers maps driver names to factories.
type Drivers struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewDrivers returns an empty driver table.
func NewDrivers() *Drivers {
	return &Drivers{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (d *Drivers) Register(name string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[strings.ToLower(name)] = f
}

// New instantiates the driver called name. Unknown names fail with a
// *ContextError of code ErrUnknownDriver.
func (d *Drivers) New(name string, opts Options) (Device, error) {
	d.mu.RLock()
	f, ok := d.factories[strings.ToLower(name)]
	d.mu.RUnlock()
	if !ok {
		return nil, NewContextError(ErrUnknownDriver, name, "", "no such driver")
	}
	if opts.Platform == nil {
		opts.Platform = platform.Noop{}
	}
	return f(opts), nil
}

// Names returns the registered driver names, sorted.
func (d *Drivers) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.factories))
}
