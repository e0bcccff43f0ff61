package mcu

import (
	"fmt"
	"math"
	"time"
)

// Unconnected is the pin number for an unwired role
const Unconnected = 0xFFFFFFFF

// DriverWiring describes a driver to create on the MCU
type DriverWiring struct {
	Chip      string
	Steps     uint16
	DirPin    uint32
	StepPin   uint32
	EnablePin uint32
	MS1Pin    uint32
	MS2Pin    uint32
	MS3Pin    uint32

	EnableActiveHigh bool
}

// DriverStatus is a stepper_driver_status report
type DriverStatus struct {
	Microsteps uint16
	RPM        float64
	Remaining  uint32
}

// ConfigureDriver creates a driver under oid
func (m *MCU) ConfigureDriver(oid uint8, w DriverWiring) error {
	chip, err := m.EnumValue("chip", w.Chip)
	if err != nil {
		return err
	}
	activeHigh := int64(0)
	if w.EnableActiveHigh {
		activeHigh = 1
	}
	return m.SendCommand("config_stepper_driver",
		int64(oid), int64(chip), int64(w.Steps),
		int64(w.DirPin), int64(w.StepPin), int64(w.EnablePin),
		int64(w.MS1Pin), int64(w.MS2Pin), int64(w.MS3Pin), activeHigh)
}

// milliRPM converts RPM to the wire unit
func milliRPM(rpm float64) int64 {
	return int64(math.Round(rpm * 1000))
}

// Begin configures the driver pins and enables it
func (m *MCU) Begin(oid uint8, rpm float64, microsteps uint16) error {
	return m.SendCommand("stepper_driver_begin", int64(oid), milliRPM(rpm), int64(microsteps))
}

// SetMicrostep changes resolution and returns the one the MCU applied
func (m *MCU) SetMicrostep(oid uint8, microsteps uint16) (uint16, error) {
	for {
		resp, err := m.Query("stepper_driver_set_microstep",
			[]int64{int64(oid), int64(microsteps)}, "stepper_driver_microstep", DefaultTimeout)
		if err != nil {
			return 0, err
		}
		if uint8(resp.Params["oid"]) == oid {
			return uint16(resp.Params["microsteps"]), nil
		}
	}
}

// SetRPM sets the target speed of later moves
func (m *MCU) SetRPM(oid uint8, rpm float64) error {
	return m.SendCommand("stepper_driver_set_rpm", int64(oid), milliRPM(rpm))
}

// SetProfile selects constant (linear=false) or trapezoidal speed
func (m *MCU) SetProfile(oid uint8, linear bool, accel, decel uint16) error {
	mode := int64(0)
	if linear {
		mode = 1
	}
	return m.SendCommand("stepper_driver_set_profile", int64(oid), mode, int64(accel), int64(decel))
}

// Enable turns the driver outputs on or off
func (m *MCU) Enable(oid uint8, on bool) error {
	v := int64(0)
	if on {
		v = 1
	}
	return m.SendCommand("stepper_driver_enable", int64(oid), v)
}

// Move starts a relative move; it runs on the MCU after this returns
func (m *MCU) Move(oid uint8, steps int32) error {
	m.drain("stepper_driver_move_done")
	return m.SendCommand("stepper_driver_move", int64(oid), int64(steps))
}

// WaitMoveDone waits until the move on oid finishes and returns its step count
func (m *MCU) WaitMoveDone(oid uint8, timeout time.Duration) (uint32, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, fmt.Errorf("move on oid %d: %w", oid, ErrResponseTimeout)
		}
		resp, err := m.WaitResponse("stepper_driver_move_done", left)
		if err != nil {
			return 0, err
		}
		if uint8(resp.Params["oid"]) == oid {
			return uint32(resp.Params["steps"]), nil
		}
	}
}

// Stop ends the current move, decelerating first when brake is set
func (m *MCU) Stop(oid uint8, brake bool) error {
	v := int64(0)
	if brake {
		v = 1
	}
	return m.SendCommand("stepper_driver_stop", int64(oid), v)
}

// Status queries resolution, speed and remaining steps
func (m *MCU) Status(oid uint8) (*DriverStatus, error) {
	for {
		resp, err := m.Query("stepper_driver_get_status", []int64{int64(oid)}, "stepper_driver_status", DefaultTimeout)
		if err != nil {
			return nil, err
		}
		if uint8(resp.Params["oid"]) != oid {
			continue
		}
		return &DriverStatus{
			Microsteps: uint16(resp.Params["microsteps"]),
			RPM:        float64(resp.Params["rpm"]) / 1000,
			Remaining:  uint32(resp.Params["remaining"]),
		}, nil
	}
}
