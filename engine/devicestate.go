package engine

import (
	"strings"
	"sync"
)

// DeviceState describes whether a device can take another call.
type DeviceState int

const (
	DeviceUnknown DeviceState = iota
	DeviceNotInUse
	DeviceInUse
	DeviceBusy
	DeviceInvalid
	DeviceUnavailable
	DeviceRinging
)

func (s DeviceState) String() string {
	switch s {
	case DeviceUnknown:
		return "Unknown"
	case DeviceNotInUse:
		return "Not in use"
	case DeviceInUse:
		return "In use"
	case DeviceBusy:
		return "Busy"
	case DeviceInvalid:
		return "Invalid"
	case DeviceUnavailable:
		return "Unavailable"
	case DeviceRinging:
		return "Ringing"
	}
	return "Unknown"
}

// DeviceStateFunc answers a state query for one technology's devices.
// target is the part of the device name after the technology prefix.
type DeviceStateFunc func(target string) DeviceState

var (
	devStateMu        sync.Mutex
	devStateProviders = make(map[string]DeviceStateFunc)
)

// RegisterDeviceStateProvider installs fn for devices named
// "prefix/...".
func RegisterDeviceStateProvider(prefix string, fn DeviceStateFunc) {
	devStateMu.Lock()
	devStateProviders[prefix] = fn
	devStateMu.Unlock()
}

// UnregisterDeviceStateProvider removes the provider for prefix.
func UnregisterDeviceStateProvider(prefix string) {
	devStateMu.Lock()
	delete(devStateProviders, prefix)
	devStateMu.Unlock()
}

// QueryDeviceState resolves "Tech/target" through the registered
// provider for Tech.
func QueryDeviceState(device string) DeviceState {
	prefix, target, ok := strings.Cut(device, "/")
	if !ok {
		return DeviceInvalid
	}
	devStateMu.Lock()
	fn := devStateProviders[prefix]
	devStateMu.Unlock()
	if fn == nil {
		return DeviceUnknown
	}
	return fn(target)
}
