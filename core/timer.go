package core

// Clock is the time source used by the step engine.
// Micros wraps around like a 32-bit hardware counter.
type Clock interface {
	// Micros returns a free running microsecond counter
	Micros() uint32

	// DelayMicros busy-waits for at least us microseconds
	DelayMicros(us uint32)
}

// Global clock, defaults to the platform implementation from timer_go.go /
// timer_tinygo.go.
var clock Clock = platformClock{}

// SetClock replaces the clock used by drivers created without one.
func SetClock(c Clock) {
	if c == nil {
		c = platformClock{}
	}
	clock = c
}

// GetClock returns the configured clock
func GetClock() Clock {
	return clock
}

// delayUntil waits until us microseconds have passed since start.
// A zero start means "no reference point", so the full delay is applied.
func delayUntil(c Clock, us uint32, start uint32) {
	if us == 0 {
		return
	}
	if start == 0 {
		c.DelayMicros(us)
		return
	}
	elapsed := c.Micros() - start
	if elapsed < us {
		c.DelayMicros(us - elapsed)
	}
}

// nsToMicros converts a nanosecond constraint to whole microseconds, rounding up
func nsToMicros(ns uint32) uint32 {
	return (ns + 999) / 1000
}
