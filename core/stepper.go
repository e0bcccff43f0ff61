package core

// Generic STEP/DIR stepper driver.
// Speed profiles follow the integer step-interval recurrence from
// D. Austin, "Generate stepper-motor speed profiles in real time" (2005).

import "math"

// SpeedMode selects how a move ramps its step rate
type SpeedMode uint8

const (
	ConstantSpeed SpeedMode = iota
	LinearSpeed
)

// SpeedProfile configures acceleration for LinearSpeed moves.
// Accel and Decel are in full steps/s^2.
type SpeedProfile struct {
	Mode  SpeedMode
	Accel uint16
	Decel uint16
}

// DefaultSpeedProfile is constant speed with 1000 steps/s^2 ramps ready
var DefaultSpeedProfile = SpeedProfile{Mode: ConstantSpeed, Accel: 1000, Decel: 1000}

// MoveState is the phase of the current move
type MoveState uint8

const (
	Stopped MoveState = iota
	Accelerating
	Cruising
	Decelerating
)

func (s MoveState) String() string {
	switch s {
	case Accelerating:
		return "accelerating"
	case Cruising:
		return "cruising"
	case Decelerating:
		return "decelerating"
	default:
		return "stopped"
	}
}

const (
	DefaultRPM        = 60
	DefaultMicrosteps = 1
)

// DriverConfig is the wiring of one driver. Pin roles that are not wired
// must be set to PinUnconnected; Selector nil means hardwired MSx lines.
type DriverConfig struct {
	Steps     uint16 // Full steps per revolution
	DirPin    GPIOPin
	StepPin   GPIOPin
	EnablePin GPIOPin
	Selector  *SelectorPins

	// Optional collaborators, default to MustGPIO() and GetClock()
	GPIO  GPIODriver
	Clock Clock
}

// Generic is used when no chip is given: no selector table, 1/128 limit
var Generic = mustChip("generic", make([]uint8, 8), Timing{
	StepHighMinNs: 1000,
	StepLowMinNs:  1000,
	WakeUpNs:      2000,
})

// BasicDriver drives DIR/STEP/ENABLE and keeps resolution and move state.
// It clamps resolutions against its chip but never touches selector lines.
type BasicDriver struct {
	chip   Chip
	timing Timing
	gpio   GPIODriver
	clock  Clock

	motorSteps uint16
	dirPin     GPIOPin
	stepPin    GPIOPin
	enablePin  GPIOPin

	enableActiveState bool // Level that enables the chip, LOW by default
	rpm               float32
	microsteps        uint16
	profile           SpeedProfile

	// Move state
	dirState           bool // true = HIGH = forward
	dirWritten         bool
	lastDir            bool
	stepsRemaining     int64
	stepCount          int64
	stepsToCruise      int64
	stepsToBrake       int64
	stepPulse          int64 // Current step interval (us)
	cruiseStepPulse    int64
	rest               int64
	lastActionEnd      uint32
	nextActionInterval uint32
}

// NewBasicDriver creates a driver without selector control
func NewBasicDriver(chip Chip, cfg DriverConfig) *BasicDriver {
	if chip == nil {
		chip = Generic
	}
	d := &BasicDriver{
		chip:       chip,
		timing:     chip.Timing(),
		gpio:       cfg.GPIO,
		clock:      cfg.Clock,
		motorSteps: cfg.Steps,
		dirPin:     cfg.DirPin,
		stepPin:    cfg.StepPin,
		enablePin:  cfg.EnablePin,
		rpm:        DefaultRPM,
		microsteps: DefaultMicrosteps,
		profile:    DefaultSpeedProfile,
	}
	if d.gpio == nil {
		d.gpio = MustGPIO()
	}
	if d.clock == nil {
		d.clock = GetClock()
	}
	return d
}

// Chip returns the chip this driver was built for
func (d *BasicDriver) Chip() Chip {
	return d.chip
}

// Begin configures the control pins, applies rpm and microsteps and enables
// the driver.
func (d *BasicDriver) Begin(rpm float32, microsteps uint16) error {
	if err := d.setup(rpm, microsteps); err != nil {
		return err
	}
	return d.Enable()
}

// setup configures DIR/STEP/ENABLE and stores speed and resolution.
// The driver is left disabled.
func (d *BasicDriver) setup(rpm float32, microsteps uint16) error {
	if err := d.gpio.ConfigureOutput(d.dirPin); err != nil {
		return err
	}
	if err := d.gpio.SetPin(d.dirPin, true); err != nil {
		return err
	}
	d.dirWritten, d.lastDir = true, true

	if err := d.gpio.ConfigureOutput(d.stepPin); err != nil {
		return err
	}
	if err := d.gpio.SetPin(d.stepPin, false); err != nil {
		return err
	}

	if d.enablePin.Connected() {
		if err := d.gpio.ConfigureOutput(d.enablePin); err != nil {
			return err
		}
		if err := d.Disable(); err != nil {
			return err
		}
	}

	d.rpm = rpm
	d.SetMicrostep(microsteps)

	DebugPrintln("[STEPPER] " + d.chip.Name() + " begin rpm=" + itoa(int(rpm)) +
		" microsteps=" + itoa(int(d.microsteps)))
	return nil
}

// SetMicrostep stores a new resolution and returns the one in effect.
// Requests above the chip maximum are clamped to it; other values that are
// not a power of two are rejected and the current resolution is kept.
func (d *BasicDriver) SetMicrostep(microsteps uint16) uint16 {
	if max := d.chip.MaxMicrostep(); microsteps > max {
		microsteps = max
	}
	if !isPowerOfTwo(microsteps) {
		DebugPrintln("[STEPPER] rejected microsteps=" + itoa(int(microsteps)))
		return d.microsteps
	}
	d.microsteps = microsteps
	return d.microsteps
}

// Microsteps returns the resolution in effect
func (d *BasicDriver) Microsteps() uint16 {
	return d.microsteps
}

// Steps returns the motor's full steps per revolution
func (d *BasicDriver) Steps() uint16 {
	return d.motorSteps
}

// SetRPM sets the target speed for subsequent moves
func (d *BasicDriver) SetRPM(rpm float32) {
	d.rpm = rpm
}

// RPM returns the target speed
func (d *BasicDriver) RPM() float32 {
	return d.rpm
}

// CurrentRPM returns the instantaneous speed of the current move
func (d *BasicDriver) CurrentRPM() float32 {
	if d.State() == Stopped || d.stepPulse <= 0 {
		return 0
	}
	return float32(60 * 1000000.0 / float64(d.stepPulse) / float64(d.microsteps) / float64(d.motorSteps))
}

// SetSpeedProfile sets the ramp mode. Zero accel or decel keeps the current value.
func (d *BasicDriver) SetSpeedProfile(p SpeedProfile) {
	if p.Accel == 0 {
		p.Accel = d.profile.Accel
	}
	if p.Decel == 0 {
		p.Decel = d.profile.Decel
	}
	d.profile = p
}

// SpeedProfile returns the current ramp settings
func (d *BasicDriver) SpeedProfile() SpeedProfile {
	return d.profile
}

// SetEnableActiveState sets the ENABLE level that turns the chip on
func (d *BasicDriver) SetEnableActiveState(high bool) {
	d.enableActiveState = high
}

// Enable turns the driver outputs on and waits the chip's wake-up latency
func (d *BasicDriver) Enable() error {
	if !d.enablePin.Connected() {
		return nil
	}
	if err := d.gpio.SetPin(d.enablePin, d.enableActiveState); err != nil {
		return err
	}
	d.clock.DelayMicros(nsToMicros(d.timing.WakeUpNs))
	return nil
}

// Disable turns the driver outputs off
func (d *BasicDriver) Disable() error {
	if !d.enablePin.Connected() {
		return nil
	}
	return d.gpio.SetPin(d.enablePin, !d.enableActiveState)
}

// stepPulseUs is the constant-speed step interval in microseconds
func (d *BasicDriver) stepPulseUs() int64 {
	if d.rpm <= 0 || d.motorSteps == 0 || d.microsteps == 0 {
		return 0
	}
	return int64(60.0 * 1000000 / float64(d.motorSteps) / float64(d.microsteps) / float64(d.rpm))
}

// CalcStepsForRotation converts degrees to microsteps at the current resolution
func (d *BasicDriver) CalcStepsForRotation(deg float64) int32 {
	return int32(deg * float64(d.motorSteps) * float64(d.microsteps) / 360)
}

// Move turns the motor by steps microsteps, blocking until done
func (d *BasicDriver) Move(steps int32) error {
	d.StartMove(steps, 0)
	for {
		next, err := d.NextAction()
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
	}
}

// Rotate turns the motor by deg degrees, blocking until done
func (d *BasicDriver) Rotate(deg float64) error {
	return d.Move(d.CalcStepsForRotation(deg))
}

// StartRotate prepares a rotation for NextAction
func (d *BasicDriver) StartRotate(deg float64) {
	d.StartMove(d.CalcStepsForRotation(deg), 0)
}

// movePlan is the ramp layout of one move
type movePlan struct {
	steps           int64
	stepsToCruise   int64
	stepsToBrake    int64
	stepPulse       int64
	cruiseStepPulse int64
}

func (d *BasicDriver) plan(steps int64, timeUs uint32) movePlan {
	p := movePlan{steps: steps}
	if steps <= 0 {
		return p
	}
	switch d.profile.Mode {
	case LinearSpeed:
		accel := float64(d.profile.Accel)
		decel := float64(d.profile.Decel)
		ms := float64(d.microsteps)
		// full steps/s
		speed := float64(d.rpm) * float64(d.motorSteps) / 60
		if timeUs > 0 {
			// Slow down to finish in the requested time
			t := float64(timeUs) / 1e6
			dist := float64(steps) / ms
			a2 := 1/accel + 1/decel
			if disc := t*t - 2*a2*dist; disc >= 0 {
				speed = math.Min(speed, (t-math.Sqrt(disc))/a2)
			}
		}
		if speed <= 0 {
			return p
		}
		p.stepsToCruise = int64(ms * (speed * speed / (2 * accel)))
		p.stepsToBrake = p.stepsToCruise * int64(d.profile.Accel) / int64(d.profile.Decel)
		if steps < p.stepsToCruise+p.stepsToBrake {
			// Cannot reach cruise speed, brake early
			p.stepsToCruise = steps * int64(d.profile.Decel) / (int64(d.profile.Accel) + int64(d.profile.Decel))
			p.stepsToBrake = steps - p.stepsToCruise
		}
		// c0 with the 0.676 correction for the first step
		p.stepPulse = int64(1e6 * 0.676 * math.Sqrt(2.0/accel/ms))
		p.cruiseStepPulse = int64(1e6 / speed / ms)
	default:
		p.stepPulse = d.stepPulseUs()
		p.cruiseStepPulse = p.stepPulse
		if int64(timeUs) > steps*p.stepPulse {
			p.stepPulse = int64(timeUs) / steps
		}
	}
	return p
}

// StartMove prepares a move for NextAction. timeUs, when non-zero, stretches
// the move to last at least that long.
func (d *BasicDriver) StartMove(steps int32, timeUs uint32) {
	d.dirState = steps >= 0
	n := int64(steps)
	if n < 0 {
		n = -n
	}
	p := d.plan(n, timeUs)
	d.lastActionEnd = 0
	d.nextActionInterval = 0
	d.stepsRemaining = n
	d.stepCount = 0
	d.rest = 0
	d.stepsToCruise = p.stepsToCruise
	d.stepsToBrake = p.stepsToBrake
	d.stepPulse = p.stepPulse
	d.cruiseStepPulse = p.cruiseStepPulse
}

// calcStepPulse advances the move by one step and computes the next interval
func (d *BasicDriver) calcStepPulse() {
	if d.stepsRemaining <= 0 {
		return
	}
	d.stepsRemaining--
	d.stepCount++

	if d.profile.Mode != LinearSpeed {
		return
	}
	switch d.State() {
	case Accelerating:
		if d.stepCount < d.stepsToCruise {
			div := 4*d.stepCount + 1
			d.stepPulse -= (2*d.stepPulse + d.rest) / div
			d.rest = (2*d.stepPulse + d.rest) % div
		} else {
			// The series only approximates the target, pin it
			d.stepPulse = d.cruiseStepPulse
		}
	case Decelerating:
		div := -4*d.stepsRemaining + 1
		d.stepPulse -= (2*d.stepPulse + d.rest) / div
		d.rest = (2*d.stepPulse + d.rest) % div
	}
}

// NextAction issues the next STEP pulse of the current move once its
// interval has elapsed. It returns the microseconds until the following
// pulse is due, or 0 when the move is complete.
func (d *BasicDriver) NextAction() (uint32, error) {
	if d.stepsRemaining <= 0 {
		d.lastActionEnd = 0
		d.nextActionInterval = 0
		return 0, nil
	}
	delayUntil(d.clock, d.nextActionInterval, d.lastActionEnd)

	// DIR is sampled on the rising STEP edge, so it goes first
	if !d.dirWritten || d.lastDir != d.dirState {
		if err := d.gpio.SetPin(d.dirPin, d.dirState); err != nil {
			return 0, err
		}
		d.dirWritten, d.lastDir = true, d.dirState
		d.clock.DelayMicros(nsToMicros(d.timing.SetupNs))
	}
	if err := d.gpio.SetPin(d.stepPin, true); err != nil {
		return 0, err
	}
	start := d.clock.Micros()
	pulse := d.stepPulse
	d.calcStepPulse()
	d.clock.DelayMicros(max(nsToMicros(d.timing.StepHighMinNs), 1))
	if err := d.gpio.SetPin(d.stepPin, false); err != nil {
		return 0, err
	}

	// Account for the time spent computing the next pulse
	d.lastActionEnd = d.clock.Micros()
	spent := int64(d.lastActionEnd - start)
	next := int64(1)
	if pulse > spent {
		next = pulse - spent
	}
	if low := int64(nsToMicros(d.timing.StepLowMinNs)); next < low {
		next = low
	}
	d.nextActionInterval = uint32(next)
	return d.nextActionInterval, nil
}

// Due reports whether the next pulse of the current move can be issued
// without waiting
func (d *BasicDriver) Due() bool {
	if d.stepsRemaining <= 0 {
		return false
	}
	if d.lastActionEnd == 0 {
		return true
	}
	return d.clock.Micros()-d.lastActionEnd >= d.nextActionInterval
}

// State returns the phase of the current move
func (d *BasicDriver) State() MoveState {
	switch {
	case d.stepsRemaining <= 0:
		return Stopped
	case d.stepsRemaining <= d.stepsToBrake:
		return Decelerating
	case d.stepCount <= d.stepsToCruise:
		return Accelerating
	default:
		return Cruising
	}
}

// StartBrake begins decelerating the current move to a stop
func (d *BasicDriver) StartBrake() {
	switch d.State() {
	case Cruising:
		d.stepsRemaining = d.stepsToBrake
	case Accelerating:
		d.stepsRemaining = d.stepCount * int64(d.profile.Accel) / int64(d.profile.Decel)
	}
}

// Stop aborts the current move immediately and returns the steps not taken
func (d *BasicDriver) Stop() uint32 {
	remaining := d.stepsRemaining
	d.stepsRemaining = 0
	return uint32(max(remaining, 0))
}

// StepsRemaining returns the steps left in the current move
func (d *BasicDriver) StepsRemaining() uint32 {
	return uint32(max(d.stepsRemaining, 0))
}

// StepsCompleted returns the steps taken in the current move
func (d *BasicDriver) StepsCompleted() uint32 {
	return uint32(d.stepCount)
}

// Direction returns 1 for forward and -1 for reverse
func (d *BasicDriver) Direction() int {
	if d.dirState {
		return 1
	}
	return -1
}

// TimeForMove estimates how long a move of steps microsteps takes, in
// microseconds, without changing the driver's state
func (d *BasicDriver) TimeForMove(steps int32) uint32 {
	n := int64(steps)
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return 0
	}
	var t float64
	switch d.profile.Mode {
	case LinearSpeed:
		p := d.plan(n, 0)
		ms := float64(d.microsteps)
		speed := float64(d.rpm) * float64(d.motorSteps) / 60
		if speed <= 0 {
			return 0
		}
		cruise := float64(n - p.stepsToCruise - p.stepsToBrake)
		t = cruise/(ms*speed) +
			math.Sqrt(2*float64(p.stepsToCruise)/float64(d.profile.Accel)/ms) +
			math.Sqrt(2*float64(p.stepsToBrake)/float64(d.profile.Decel)/ms)
		t *= 1e6
	default:
		t = float64(n) * float64(d.stepPulseUs())
	}
	return uint32(math.Round(t))
}
