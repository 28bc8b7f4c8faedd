package tracer

import (
	"errors"
	"fmt"
	"strings"
)

type DeviceType uint8

// Supported device types.
const (
	CpuDevice DeviceType = 1 << iota
	GpuDevice
	OtherDevice
	AllDevices DeviceType = 0xFF
)

var ErrNoDevice = errors.New("tracer: no suitable device found")

func (dt DeviceType) String() string {
	switch dt {
	case CpuDevice:
		return "CPU"
	case GpuDevice:
		return "GPU"
	case OtherDevice:
		return "Other"
	}
	panic("tracer: unsupported device type")
}

// Information about a device that can host an intersection backend.
type DeviceInfo struct {
	Name   string
	Vendor string
	Type   DeviceType

	// Number of parallel compute units.
	ComputeUnits uint32
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%s, %s, %d compute units)", d.Name, d.Vendor, d.Type, d.ComputeUnits)
}

func (d DeviceInfo) matches(pattern string) bool {
	pattern = strings.ToLower(pattern)
	return strings.Contains(strings.ToLower(d.Name), pattern) ||
		strings.Contains(strings.ToLower(d.Vendor), pattern)
}

// Pick a device from list and return its index.
//
// Devices whose name or vendor contains any of the blacklist entries are
// ignored. If force is non-empty, the first device matching it is selected.
// Otherwise the first non-Intel GPU is preferred, falling back to the first
// CPU device.
func SelectDevice(list []DeviceInfo, blacklist []string, force string) (int, error) {
	allowed := func(d DeviceInfo) bool {
		for _, entry := range blacklist {
			if entry != "" && d.matches(entry) {
				return false
			}
		}
		return true
	}

	if force != "" {
		for idx, d := range list {
			if allowed(d) && d.matches(force) {
				return idx, nil
			}
		}
		return -1, fmt.Errorf("%w: no device matches %q", ErrNoDevice, force)
	}

	for idx, d := range list {
		if d.Type != GpuDevice || !allowed(d) {
			continue
		}
		if strings.Contains(d.Name, "Intel") || strings.Contains(d.Vendor, "Intel") {
			continue
		}
		return idx, nil
	}

	for idx, d := range list {
		if d.Type == CpuDevice && allowed(d) {
			return idx, nil
		}
	}

	return -1, ErrNoDevice
}
