package core

// Driver is a chip-specific stepper driver. On top of BasicDriver it drives
// the microstep selector lines, when they are wired, from the chip's table.
type Driver struct {
	*BasicDriver
	selector *SelectorPins
}

// NewDriver creates a driver for chip. A nil or partially wired
// cfg.Selector leaves resolution control timing-only.
func NewDriver(chip Chip, cfg DriverConfig) *Driver {
	d := &Driver{BasicDriver: NewBasicDriver(chip, cfg)}
	if cfg.Selector.complete() {
		sel := *cfg.Selector
		d.selector = &sel
	}
	return d
}

// SelectorConnected reports whether resolution changes reach the chip
func (d *Driver) SelectorConnected() bool {
	return d.selector != nil
}

// Begin configures all control pins, applies rpm and microsteps to the
// chip and enables it.
func (d *Driver) Begin(rpm float32, microsteps uint16) error {
	if err := d.setup(rpm, microsteps); err != nil {
		return err
	}
	if d.selector != nil {
		for _, pin := range [...]GPIOPin{d.selector.MS1, d.selector.MS2, d.selector.MS3} {
			if err := d.gpio.ConfigureOutput(pin); err != nil {
				return err
			}
		}
		if err := d.applySelector(); err != nil {
			return err
		}
	}
	return d.Enable()
}

// SetMicrostep sets the resolution and returns the one in effect.
// Without selector lines only the step timing changes.
func (d *Driver) SetMicrostep(microsteps uint16) (uint16, error) {
	d.BasicDriver.SetMicrostep(microsteps)
	if d.selector == nil {
		return d.microsteps, nil
	}
	return d.microsteps, d.applySelector()
}

// applySelector writes the pattern for the stored resolution
func (d *Driver) applySelector() error {
	pattern, ok := LookupPattern(d.chip.MicrostepTable(), d.microsteps)
	if !ok {
		return nil
	}
	return writeSelector(d.gpio, d.selector, pattern)
}
