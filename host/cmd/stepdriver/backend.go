package main

import (
	"fmt"
	"math"
	"time"

	"stepdriver/config"
	"stepdriver/core"
	"stepdriver/host/mcu"
	"stepdriver/host/periph"
)

// status is what the status command prints
type status struct {
	Microsteps uint16
	RPM        float64
	Remaining  uint32
}

// backend runs driver operations either on a remote MCU or on local GPIO
type backend interface {
	SetMicrostep(name string, microsteps uint16) (uint16, error)
	SetRPM(name string, rpm float64) error
	Enable(name string, on bool) error
	Move(name string, steps int32) error
	Rotate(name string, deg float64) error
	Status(name string) (status, error)
	Close() error
}

// remoteBackend forwards operations to driver firmware over serial
type remoteBackend struct {
	mcu   *mcu.MCU
	cfg   *config.Config
	steps map[string]uint16
}

func newRemoteBackend(m *mcu.MCU, cfg *config.Config) (*remoteBackend, error) {
	if err := cfg.ValidateRemote(); err != nil {
		return nil, err
	}
	b := &remoteBackend{mcu: m, cfg: cfg, steps: make(map[string]uint16)}
	if err := m.SendCommand("config_reset"); err != nil {
		return nil, fmt.Errorf("config_reset: %w", err)
	}
	for _, name := range cfg.DriverNames() {
		d := cfg.Drivers[name]
		pins, err := d.Pins()
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", name, err)
		}
		err = m.ConfigureDriver(d.OID, mcu.DriverWiring{
			Chip:      d.Chip,
			Steps:     d.Steps,
			DirPin:    uint32(pins.Dir),
			StepPin:   uint32(pins.Step),
			EnablePin: uint32(pins.Enable),
			MS1Pin:    uint32(pins.MS1),
			MS2Pin:    uint32(pins.MS2),
			MS3Pin:    uint32(pins.MS3),

			EnableActiveHigh: d.EnableActiveHigh,
		})
		if err != nil {
			return nil, fmt.Errorf("configure %s: %w", name, err)
		}
		if err := m.SetProfile(d.OID, d.Profile.Mode == "linear", d.Profile.Accel, d.Profile.Decel); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		if err := m.Begin(d.OID, d.RPM, d.Microsteps); err != nil {
			return nil, fmt.Errorf("begin %s: %w", name, err)
		}
		b.steps[name] = d.Steps
	}
	return b, nil
}

func (b *remoteBackend) oid(name string) (uint8, error) {
	d, ok := b.cfg.Drivers[name]
	if !ok {
		return 0, fmt.Errorf("unknown driver %q", name)
	}
	return d.OID, nil
}

func (b *remoteBackend) SetMicrostep(name string, microsteps uint16) (uint16, error) {
	oid, err := b.oid(name)
	if err != nil {
		return 0, err
	}
	return b.mcu.SetMicrostep(oid, microsteps)
}

func (b *remoteBackend) SetRPM(name string, rpm float64) error {
	oid, err := b.oid(name)
	if err != nil {
		return err
	}
	return b.mcu.SetRPM(oid, rpm)
}

func (b *remoteBackend) Enable(name string, on bool) error {
	oid, err := b.oid(name)
	if err != nil {
		return err
	}
	return b.mcu.Enable(oid, on)
}

func (b *remoteBackend) Move(name string, steps int32) error {
	oid, err := b.oid(name)
	if err != nil {
		return err
	}
	st, err := b.mcu.Status(oid)
	if err != nil {
		return err
	}
	if err := b.mcu.Move(oid, steps); err != nil {
		return err
	}
	_, err = b.mcu.WaitMoveDone(oid, moveTimeout(steps, st.RPM, b.steps[name], st.Microsteps))
	return err
}

func (b *remoteBackend) Rotate(name string, deg float64) error {
	oid, err := b.oid(name)
	if err != nil {
		return err
	}
	st, err := b.mcu.Status(oid)
	if err != nil {
		return err
	}
	steps := int32(deg * float64(b.steps[name]) * float64(st.Microsteps) / 360)
	return b.Move(name, steps)
}

func (b *remoteBackend) Status(name string) (status, error) {
	oid, err := b.oid(name)
	if err != nil {
		return status{}, err
	}
	st, err := b.mcu.Status(oid)
	if err != nil {
		return status{}, err
	}
	return status{Microsteps: st.Microsteps, RPM: st.RPM, Remaining: st.Remaining}, nil
}

func (b *remoteBackend) Close() error {
	return b.mcu.Close()
}

// moveTimeout allows twice the nominal move time plus a second
func moveTimeout(steps int32, rpm float64, motorSteps, microsteps uint16) time.Duration {
	if rpm <= 0 || motorSteps == 0 || microsteps == 0 {
		return time.Minute
	}
	perStep := 60 / rpm / float64(motorSteps) / float64(microsteps)
	secs := 2*math.Abs(float64(steps))*perStep + 1
	return time.Duration(secs * float64(time.Second))
}

// localBackend drives chips from this machine's GPIO header
type localBackend struct {
	drivers map[string]*core.Driver
}

func newLocalBackend(cfg *config.Config, gpio core.GPIODriver) (*localBackend, error) {
	if gpio == nil {
		g, err := periph.Open()
		if err != nil {
			return nil, err
		}
		gpio = g
	}
	b := &localBackend{drivers: make(map[string]*core.Driver)}
	for _, name := range cfg.DriverNames() {
		d, err := cfg.BuildDriver(name, gpio, nil)
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", name, err)
		}
		dc := cfg.Drivers[name]
		if err := d.Begin(float32(dc.RPM), dc.Microsteps); err != nil {
			return nil, fmt.Errorf("begin %s: %w", name, err)
		}
		b.drivers[name] = d
	}
	return b, nil
}

func (b *localBackend) driver(name string) (*core.Driver, error) {
	d, ok := b.drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q", name)
	}
	return d, nil
}

func (b *localBackend) SetMicrostep(name string, microsteps uint16) (uint16, error) {
	d, err := b.driver(name)
	if err != nil {
		return 0, err
	}
	return d.SetMicrostep(microsteps)
}

func (b *localBackend) SetRPM(name string, rpm float64) error {
	d, err := b.driver(name)
	if err != nil {
		return err
	}
	d.SetRPM(float32(rpm))
	return nil
}

func (b *localBackend) Enable(name string, on bool) error {
	d, err := b.driver(name)
	if err != nil {
		return err
	}
	if on {
		return d.Enable()
	}
	return d.Disable()
}

func (b *localBackend) Move(name string, steps int32) error {
	d, err := b.driver(name)
	if err != nil {
		return err
	}
	return d.Move(steps)
}

func (b *localBackend) Rotate(name string, deg float64) error {
	d, err := b.driver(name)
	if err != nil {
		return err
	}
	return d.Rotate(deg)
}

func (b *localBackend) Status(name string) (status, error) {
	d, err := b.driver(name)
	if err != nil {
		return status{}, err
	}
	return status{Microsteps: d.Microsteps(), RPM: float64(d.RPM()), Remaining: d.StepsRemaining()}, nil
}

func (b *localBackend) Close() error {
	var firstErr error
	for _, d := range b.drivers {
		if err := d.Disable(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
