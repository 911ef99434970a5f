package localchan

import (
	"fmt"

	"github.com/tevino/abool"

	"localchan/engine"
)

var (
	handle     *engine.TechHandle
	registered = abool.New()
)

// Register wires the driver into the engine: the Local channel
// technology, its device state provider and the management commands.
func Register() error {
	if registered.IsSet() {
		return fmt.Errorf("local channel driver already registered")
	}
	h, err := engine.RegisterTech(tech)
	if err != nil {
		return fmt.Errorf("register local channel driver: %w", err)
	}
	handle = h

	engine.RegisterDeviceStateProvider(techType, deviceState)
	if err := engine.RegisterCommand("LocalShowChannels", showChannels); err != nil {
		return err
	}
	if err := engine.RegisterCommand("LocalOptimizeAway", optimizeAway); err != nil {
		return err
	}
	registered.Set()
	return nil
}

// Unregister withdraws the driver. New requests stop resolving first,
// then every pair that still has an owner side gets a soft hangup so
// its controller winds the call down.
func Unregister() error {
	if !registered.IsSet() {
		return nil
	}
	engine.UnregisterCommand("LocalShowChannels")
	engine.UnregisterCommand("LocalOptimizeAway")
	engine.UnregisterDeviceStateProvider(techType)
	engine.UnregisterTech(techType)

	for _, p := range registry.snapshot() {
		p.mu.Lock()
		owner := p.owner
		p.mu.Unlock()
		if owner != nil {
			owner.SoftHangup(engine.CauseNormalClearing)
		}
	}

	registered.UnSet()
	return nil
}
