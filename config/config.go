// Package config loads the machine file that describes driver wiring.
// The file is YAML; JSON is accepted as well.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"stepdriver/core"
)

// Config is the whole machine file
type Config struct {
	Transport TransportConfig         `yaml:"transport"`
	Drivers   map[string]DriverConfig `yaml:"drivers"`
	Chips     map[string]ChipConfig   `yaml:"chips"`
}

// TransportConfig selects the serial link to a driver MCU
type TransportConfig struct {
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
	Backend string `yaml:"backend"`
}

// DriverConfig is one motor's driver and wiring
type DriverConfig struct {
	OID              uint8         `yaml:"oid"`
	Chip             string        `yaml:"chip"`
	Steps            uint16        `yaml:"steps"`
	DirPin           string        `yaml:"dir_pin"`
	StepPin          string        `yaml:"step_pin"`
	EnablePin        string        `yaml:"enable_pin"`
	EnableActiveHigh bool          `yaml:"enable_active_high"`
	MS1Pin           string        `yaml:"ms1_pin"`
	MS2Pin           string        `yaml:"ms2_pin"`
	MS3Pin           string        `yaml:"ms3_pin"`
	RPM              float64       `yaml:"rpm"`
	Microsteps       uint16        `yaml:"microsteps"`
	Profile          ProfileConfig `yaml:"profile"`
}

// ProfileConfig is the speed ramp of a driver
type ProfileConfig struct {
	Mode  string `yaml:"mode"` // "constant" or "linear"
	Accel uint16 `yaml:"accel"`
	Decel uint16 `yaml:"decel"`
}

// ChipConfig defines a chip variant not built into the firmware
type ChipConfig struct {
	Table      []uint8 `yaml:"table"`
	StepHighNs uint32  `yaml:"step_high_ns"`
	StepLowNs  uint32  `yaml:"step_low_ns"`
	WakeUpNs   uint32  `yaml:"wake_up_ns"`
	SetupNs    uint32  `yaml:"setup_ns"`
}

var (
	ErrNoDrivers     = errors.New("no drivers configured")
	ErrMissingPin    = errors.New("required pin not set")
	ErrMicrosteps    = errors.New("microsteps must be a power of two")
	ErrChipNotOnWire = errors.New("custom chip cannot be configured on an MCU")
)

// Load reads and parses a machine file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig parses a configuration document and returns a Config
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(cfg *Config) {
	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = 250000
	}
	if cfg.Transport.Backend == "" {
		cfg.Transport.Backend = "tarm"
	}

	for name, d := range cfg.Drivers {
		if d.Chip == "" {
			d.Chip = "generic"
		}
		if d.Steps == 0 {
			d.Steps = 200 // 1.8 degree motor
		}
		if d.RPM == 0 {
			d.RPM = core.DefaultRPM
		}
		if d.Microsteps == 0 {
			d.Microsteps = core.DefaultMicrosteps
		}
		if d.Profile.Mode == "" {
			d.Profile.Mode = "constant"
		}
		if d.Profile.Accel == 0 {
			d.Profile.Accel = core.DefaultSpeedProfile.Accel
		}
		if d.Profile.Decel == 0 {
			d.Profile.Decel = core.DefaultSpeedProfile.Decel
		}
		cfg.Drivers[name] = d
	}
}

// Validate checks pins, chips and object ids
func (c *Config) Validate() error {
	if len(c.Drivers) == 0 {
		return ErrNoDrivers
	}
	oids := make(map[uint8]string)
	for _, name := range c.DriverNames() {
		d := c.Drivers[name]
		if other, dup := oids[d.OID]; dup {
			return fmt.Errorf("drivers %s and %s share oid %d", other, name, d.OID)
		}
		oids[d.OID] = name
		if d.OID >= core.MaxDrivers {
			return fmt.Errorf("driver %s: oid %d out of range", name, d.OID)
		}
		if _, err := d.Pins(); err != nil {
			return fmt.Errorf("driver %s: %w", name, err)
		}
		if _, err := c.Chip(d.Chip); err != nil {
			return fmt.Errorf("driver %s: %w", name, err)
		}
		if _, err := d.SpeedProfile(); err != nil {
			return fmt.Errorf("driver %s: %w", name, err)
		}
		// Values above the chip maximum are clamped by the driver
		if d.Microsteps == 0 || d.Microsteps&(d.Microsteps-1) != 0 {
			return fmt.Errorf("driver %s: %w: %d", name, ErrMicrosteps, d.Microsteps)
		}
	}
	return nil
}

// ValidateRemote checks that every driver uses a chip the firmware knows.
// Custom chips only exist on the host.
func (c *Config) ValidateRemote() error {
	for _, name := range c.DriverNames() {
		chip := c.Drivers[name].Chip
		if _, custom := c.Chips[chip]; custom {
			return fmt.Errorf("driver %s: %w: %s", name, ErrChipNotOnWire, chip)
		}
		if _, err := core.ChipByName(chip); err != nil {
			return fmt.Errorf("driver %s: %w: %s", name, err, chip)
		}
	}
	return nil
}

// DriverNames returns the configured driver names in order
func (c *Config) DriverNames() []string {
	names := make([]string, 0, len(c.Drivers))
	for name := range c.Drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chip resolves a chip name against custom chips first, then built-ins
func (c *Config) Chip(name string) (core.Chip, error) {
	if cc, ok := c.Chips[name]; ok {
		chip, err := core.NewChipVariant(name, cc.Table, core.Timing{
			StepHighMinNs: cc.StepHighNs,
			StepLowMinNs:  cc.StepLowNs,
			WakeUpNs:      cc.WakeUpNs,
			SetupNs:       cc.SetupNs,
		})
		if err != nil {
			return nil, fmt.Errorf("chip %s: %w", name, err)
		}
		return chip, nil
	}
	chip, err := core.ChipByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	return chip, nil
}

// ParsePin converts "gpio17", "GPIO17" or "17" to a pin number.
// An empty string is an unwired pin.
func ParsePin(s string) (core.GPIOPin, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.PinUnconnected, nil
	}
	num := strings.TrimPrefix(strings.ToLower(s), "gpio")
	n, err := strconv.ParseUint(num, 10, 32)
	if err != nil || core.GPIOPin(n) == core.PinUnconnected {
		return 0, fmt.Errorf("invalid pin %q", s)
	}
	return core.GPIOPin(n), nil
}

// PinSet is the parsed wiring of a driver
type PinSet struct {
	Dir, Step, Enable core.GPIOPin
	MS1, MS2, MS3     core.GPIOPin
}

// Selector returns the selector group, nil unless all three lines are wired
func (p PinSet) Selector() *core.SelectorPins {
	if !p.MS1.Connected() || !p.MS2.Connected() || !p.MS3.Connected() {
		return nil
	}
	return &core.SelectorPins{MS1: p.MS1, MS2: p.MS2, MS3: p.MS3}
}

// Pins parses the driver's pin names
func (d *DriverConfig) Pins() (PinSet, error) {
	var ps PinSet
	fields := []struct {
		name     string
		value    string
		dst      *core.GPIOPin
		required bool
	}{
		{"dir_pin", d.DirPin, &ps.Dir, true},
		{"step_pin", d.StepPin, &ps.Step, true},
		{"enable_pin", d.EnablePin, &ps.Enable, false},
		{"ms1_pin", d.MS1Pin, &ps.MS1, false},
		{"ms2_pin", d.MS2Pin, &ps.MS2, false},
		{"ms3_pin", d.MS3Pin, &ps.MS3, false},
	}
	for _, f := range fields {
		pin, err := ParsePin(f.value)
		if err != nil {
			return ps, fmt.Errorf("%s: %w", f.name, err)
		}
		if f.required && !pin.Connected() {
			return ps, fmt.Errorf("%s: %w", f.name, ErrMissingPin)
		}
		*f.dst = pin
	}
	return ps, nil
}

// SpeedProfile converts the profile section
func (d *DriverConfig) SpeedProfile() (core.SpeedProfile, error) {
	p := core.SpeedProfile{Accel: d.Profile.Accel, Decel: d.Profile.Decel}
	switch d.Profile.Mode {
	case "constant":
		p.Mode = core.ConstantSpeed
	case "linear":
		p.Mode = core.LinearSpeed
	default:
		return p, fmt.Errorf("unknown profile mode %q", d.Profile.Mode)
	}
	return p, nil
}

// BuildDriver creates a local driver for the named entry. gpio and clock may
// be nil to use the core defaults.
func (c *Config) BuildDriver(name string, gpio core.GPIODriver, clock core.Clock) (*core.Driver, error) {
	d, ok := c.Drivers[name]
	if !ok {
		return nil, fmt.Errorf("unknown driver %q", name)
	}
	chip, err := c.Chip(d.Chip)
	if err != nil {
		return nil, err
	}
	pins, err := d.Pins()
	if err != nil {
		return nil, err
	}
	profile, err := d.SpeedProfile()
	if err != nil {
		return nil, err
	}
	drv := core.NewDriver(chip, core.DriverConfig{
		Steps:     d.Steps,
		DirPin:    pins.Dir,
		StepPin:   pins.Step,
		EnablePin: pins.Enable,
		Selector:  pins.Selector(),
		GPIO:      gpio,
		Clock:     clock,
	})
	drv.SetEnableActiveState(d.EnableActiveHigh)
	drv.SetSpeedProfile(profile)
	return drv, nil
}
