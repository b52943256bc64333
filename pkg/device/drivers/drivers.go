// Package drivers wires the built-in device drivers into a registry.
package drivers

import (
	"github.com/marmos91/dittocifs/pkg/device"
	"github.com/marmos91/dittocifs/pkg/device/disk"
	"github.com/marmos91/dittocifs/pkg/device/memory"
	"github.com/marmos91/dittocifs/pkg/device/s3"
)

// Default returns a registry holding disk, memory and s3.
func Default() *device.Drivers {
	d := device.NewDrivers()
	d.Register(disk.DriverName, disk.Factory)
	d.Register(memory.DriverName, memory.Factory)
	d.Register(s3.DriverName, s3.Factory)
	return d
}
