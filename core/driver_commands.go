package core

import (
	"stepdriver/protocol"
)

// InitDriverCommands registers the stepper driver commands and the chip
// enumeration the host uses to fill in chip=%c.
func InitDriverCommands() {
	RegisterCommand("config_stepper_driver",
		"oid=%c chip=%c steps=%hu dir_pin=%u step_pin=%u enable_pin=%u ms1_pin=%u ms2_pin=%u ms3_pin=%u enable_active_high=%c",
		handleConfigStepperDriver)
	RegisterCommand("stepper_driver_begin", "oid=%c rpm=%u microsteps=%hu", handleStepperDriverBegin)
	RegisterCommand("stepper_driver_set_microstep", "oid=%c microsteps=%hu", handleStepperDriverSetMicrostep)
	RegisterCommand("stepper_driver_set_rpm", "oid=%c rpm=%u", handleStepperDriverSetRPM)
	RegisterCommand("stepper_driver_set_profile", "oid=%c mode=%c accel=%hu decel=%hu", handleStepperDriverSetProfile)
	RegisterCommand("stepper_driver_enable", "oid=%c enable=%c", handleStepperDriverEnable)
	RegisterCommand("stepper_driver_move", "oid=%c steps=%i", handleStepperDriverMove)
	RegisterCommand("stepper_driver_stop", "oid=%c brake=%c", handleStepperDriverStop)
	RegisterCommand("stepper_driver_get_status", "oid=%c", handleStepperDriverGetStatus)

	// Response messages
	RegisterResponse("stepper_driver_microstep", "oid=%c microsteps=%hu")
	RegisterResponse("stepper_driver_status", "oid=%c microsteps=%hu rpm=%u remaining=%u")
	RegisterResponse("stepper_driver_move_done", "oid=%c steps=%u")

	names := make([]string, len(chips))
	for i, c := range chips {
		names[i] = c.Name()
	}
	GetGlobalDictionary().AddEnumeration("chip", names)
	RegisterConstant("STEPPER_DRIVER_MAX", itoa(MaxDrivers))
}

// argByte checks a %c argument before narrowing it
func argByte(v uint32) (uint8, error) {
	if v > 0xFF {
		return 0, ErrInvalidArgument
	}
	return uint8(v), nil
}

// argHalf checks a %hu argument before narrowing it
func argHalf(v uint32) (uint16, error) {
	if v > 0xFFFF {
		return 0, ErrInvalidArgument
	}
	return uint16(v), nil
}

// argBool checks a 0/1 flag
func argBool(v uint32) (bool, error) {
	if v > 1 {
		return false, ErrInvalidArgument
	}
	return v == 1, nil
}

// decodeArgs decodes n unsigned arguments
func decodeArgs(data *[]byte, n int) ([]uint32, error) {
	args := make([]uint32, n)
	for i := range args {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// handleConfigStepperDriver creates a driver under an object id
// Format: config_stepper_driver oid=%c chip=%c steps=%hu dir_pin=%u step_pin=%u enable_pin=%u ms1_pin=%u ms2_pin=%u ms3_pin=%u enable_active_high=%c
func handleConfigStepperDriver(data *[]byte) error {
	args, err := decodeArgs(data, 10)
	if err != nil {
		return err
	}
	if args[0] >= MaxDrivers {
		return ErrInvalidOID
	}
	chipID, err := argByte(args[1])
	if err != nil {
		return err
	}
	chip, err := ChipByID(chipID)
	if err != nil {
		return err
	}
	steps, err := argHalf(args[2])
	if err != nil {
		return err
	}
	activeHigh, err := argBool(args[9])
	if err != nil {
		return err
	}
	d := NewDriver(chip, DriverConfig{
		Steps:     steps,
		DirPin:    GPIOPin(args[3]),
		StepPin:   GPIOPin(args[4]),
		EnablePin: GPIOPin(args[5]),
		Selector: &SelectorPins{
			MS1: GPIOPin(args[6]),
			MS2: GPIOPin(args[7]),
			MS3: GPIOPin(args[8]),
		},
	})
	d.SetEnableActiveState(activeHigh)
	if err := RegisterDriver(uint8(args[0]), d); err != nil {
		return err
	}
	DebugPrintln("[DRIVER] oid=" + utoa(args[0]) + " chip=" + chip.Name())
	return nil
}

// handleStepperDriverBegin configures the pins and enables the driver
// Format: stepper_driver_begin oid=%c rpm=%u microsteps=%hu
func handleStepperDriverBegin(data *[]byte) error {
	args, err := decodeArgs(data, 3)
	if err != nil {
		return err
	}
	microsteps, err := argHalf(args[2])
	if err != nil {
		return err
	}
	return withDriver(args[0], func(inst *DriverInstance) error {
		if err := inst.Driver.Begin(milliRPM(args[1]), microsteps); err != nil {
			return err
		}
		inst.State.Enabled = true
		return nil
	})
}

// handleStepperDriverSetMicrostep changes resolution and reports the one in effect
// Format: stepper_driver_set_microstep oid=%c microsteps=%hu
func handleStepperDriverSetMicrostep(data *[]byte) error {
	args, err := decodeArgs(data, 2)
	if err != nil {
		return err
	}
	oid := args[0]
	requested, err := argHalf(args[1])
	if err != nil {
		return err
	}
	var applied uint16
	err = withDriver(oid, func(inst *DriverInstance) error {
		if inst.State.Moving {
			// Resolution cannot change under a move in progress
			applied = inst.Driver.Microsteps()
			return nil
		}
		var err error
		applied, err = inst.Driver.SetMicrostep(requested)
		return err
	})
	if err != nil {
		return err
	}
	return SendResponse("stepper_driver_microstep", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, uint32(applied))
	})
}

// Format: stepper_driver_set_rpm oid=%c rpm=%u
func handleStepperDriverSetRPM(data *[]byte) error {
	args, err := decodeArgs(data, 2)
	if err != nil {
		return err
	}
	return withDriver(args[0], func(inst *DriverInstance) error {
		inst.Driver.SetRPM(milliRPM(args[1]))
		return nil
	})
}

// Format: stepper_driver_set_profile oid=%c mode=%c accel=%hu decel=%hu
func handleStepperDriverSetProfile(data *[]byte) error {
	args, err := decodeArgs(data, 4)
	if err != nil {
		return err
	}
	if args[1] != uint32(ConstantSpeed) && args[1] != uint32(LinearSpeed) {
		return ErrInvalidArgument
	}
	accel, err := argHalf(args[2])
	if err != nil {
		return err
	}
	decel, err := argHalf(args[3])
	if err != nil {
		return err
	}
	return withDriver(args[0], func(inst *DriverInstance) error {
		inst.Driver.SetSpeedProfile(SpeedProfile{
			Mode:  SpeedMode(args[1]),
			Accel: accel,
			Decel: decel,
		})
		return nil
	})
}

// Format: stepper_driver_enable oid=%c enable=%c
func handleStepperDriverEnable(data *[]byte) error {
	args, err := decodeArgs(data, 2)
	if err != nil {
		return err
	}
	enable, err := argBool(args[1])
	if err != nil {
		return err
	}
	return withDriver(args[0], func(inst *DriverInstance) error {
		if !enable {
			inst.Driver.Stop()
			inst.State.Moving = false
			inst.State.Enabled = false
			return inst.Driver.Disable()
		}
		if IsShutdown() {
			return ErrDriverShutdown
		}
		if err := inst.Driver.Enable(); err != nil {
			return err
		}
		inst.State.Enabled = true
		return nil
	})
}

// handleStepperDriverMove starts a relative move; ServiceDrivers steps it
// Format: stepper_driver_move oid=%c steps=%i
func handleStepperDriverMove(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	steps, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrDriverShutdown
	}
	return withDriver(oid, func(inst *DriverInstance) error {
		if !inst.State.Enabled {
			return ErrDriverNotBegun
		}
		inst.Driver.StartMove(steps, 0)
		inst.State.Moving = true
		return nil
	})
}

// Format: stepper_driver_stop oid=%c brake=%c
func handleStepperDriverStop(data *[]byte) error {
	args, err := decodeArgs(data, 2)
	if err != nil {
		return err
	}
	brake, err := argBool(args[1])
	if err != nil {
		return err
	}
	return withDriver(args[0], func(inst *DriverInstance) error {
		if brake {
			inst.Driver.StartBrake()
		} else {
			inst.Driver.Stop()
		}
		return nil
	})
}

// Format: stepper_driver_get_status oid=%c
func handleStepperDriverGetStatus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	var microsteps uint16
	var rpm, remaining uint32
	err = withDriver(oid, func(inst *DriverInstance) error {
		microsteps = inst.Driver.Microsteps()
		rpm = uint32(inst.Driver.RPM()*1000 + 0.5)
		remaining = inst.Driver.StepsRemaining()
		return nil
	})
	if err != nil {
		return err
	}
	return SendResponse("stepper_driver_status", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQUint(output, uint32(microsteps))
		protocol.EncodeVLQUint(output, rpm)
		protocol.EncodeVLQUint(output, remaining)
	})
}

// milliRPM converts the wire speed unit to RPM
func milliRPM(v uint32) float32 {
	return float32(v) / 1000
}
