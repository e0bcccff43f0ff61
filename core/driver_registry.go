package core

import (
	"errors"
	"sync"

	"stepdriver/protocol"
)

// MaxDrivers bounds the object ids a host may configure
const MaxDrivers = 16

// DriverInstance is a driver configured by the host under an object id
type DriverInstance struct {
	OID    uint8
	Driver *Driver
	State  DriverState
}

// DriverState tracks the runtime state of a driver
type DriverState struct {
	Moving    bool
	Enabled   bool
	LastError error
}

var (
	ErrInvalidOID      = errors.New("oid out of range")
	ErrOIDInUse        = errors.New("driver OID already registered")
	ErrDriverNotFound  = errors.New("driver not found")
	ErrDriverShutdown  = errors.New("firmware is shut down")
	ErrDriverNotBegun  = errors.New("driver not started")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Global driver registry
var (
	registryMu        sync.Mutex
	registeredDrivers [MaxDrivers]*DriverInstance
)

// RegisterDriver adds a driver under oid
func RegisterDriver(oid uint8, d *Driver) error {
	if d == nil {
		return errors.New("driver is nil")
	}
	if oid >= MaxDrivers {
		return ErrInvalidOID
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if registeredDrivers[oid] != nil {
		return ErrOIDInUse
	}
	registeredDrivers[oid] = &DriverInstance{OID: oid, Driver: d}
	return nil
}

// GetDriver retrieves a registered driver by OID
func GetDriver(oid uint8) (*DriverInstance, bool) {
	if oid >= MaxDrivers {
		return nil, false
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	inst := registeredDrivers[oid]
	return inst, inst != nil
}

// withDriver runs fn on the driver registered under oid while holding the
// registry lock
func withDriver(oid uint32, fn func(inst *DriverInstance) error) error {
	if oid >= MaxDrivers {
		return ErrInvalidOID
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	inst := registeredDrivers[oid]
	if inst == nil {
		return ErrDriverNotFound
	}
	err := fn(inst)
	inst.State.LastError = err
	return err
}

// UnregisterDriver stops and removes a driver from the registry
func UnregisterDriver(oid uint8) error {
	if oid >= MaxDrivers {
		return ErrInvalidOID
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	inst := registeredDrivers[oid]
	if inst == nil {
		return ErrDriverNotFound
	}
	inst.Driver.Stop()
	registeredDrivers[oid] = nil
	return nil
}

// ResetDrivers stops every driver and clears the registry
func ResetDrivers() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i, inst := range registeredDrivers {
		if inst == nil {
			continue
		}
		inst.Driver.Stop()
		registeredDrivers[i] = nil
	}
}

// StopAllDrivers aborts every move and disables every driver
func StopAllDrivers() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, inst := range registeredDrivers {
		if inst == nil {
			continue
		}
		inst.Driver.Stop()
		inst.State.Moving = false
		if err := inst.Driver.Disable(); err != nil {
			inst.State.LastError = err
		}
		inst.State.Enabled = false
	}
}

// ServiceDrivers issues every step pulse that is due and reports finished
// moves. The firmware main loop calls it continuously.
func ServiceDrivers() {
	for oid := uint8(0); oid < MaxDrivers; oid++ {
		serviceDriver(oid)
	}
}

func serviceDriver(oid uint8) {
	registryMu.Lock()
	inst := registeredDrivers[oid]
	if inst == nil || !inst.State.Moving {
		registryMu.Unlock()
		return
	}
	d := inst.Driver
	if d.Due() {
		if _, err := d.NextAction(); err != nil {
			inst.State.LastError = err
			d.Stop()
		}
	}
	done := d.StepsRemaining() == 0
	steps := d.StepsCompleted()
	if done {
		inst.State.Moving = false
	}
	registryMu.Unlock()

	if done {
		SendResponse("stepper_driver_move_done", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(oid))
			protocol.EncodeVLQUint(output, steps)
		})
	}
}
