package app

import (
	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/remote"
)

// lazyPowerSwitch resolves a device power switch on every call, so a device
// whose retained state arrives after startup is still usable.
type lazyPowerSwitch struct {
	devices *remote.Devices
	name    string
}

func (l lazyPowerSwitch) resolve() (automation.PowerSwitch, error) {
	sw := l.devices.PowerSwitch(l.name)
	if sw == nil {
		return nil, automation.ErrAbsent
	}
	return sw, nil
}

func (l lazyPowerSwitch) SetPower(on bool) error {
	sw, err := l.resolve()
	if err != nil {
		return err
	}
	return sw.SetPower(on)
}

func (l lazyPowerSwitch) Power() (bool, error) {
	sw, err := l.resolve()
	if err != nil {
		return false, err
	}
	return sw.Power()
}
