//go:build !tinygo

package core

import "time"

var bootTime = time.Now()

// platformClock is the regular Go clock, used on hosts and in tests
type platformClock struct{}

func (platformClock) Micros() uint32 {
	return uint32(time.Since(bootTime).Microseconds())
}

// DelayMicros spins for short delays; the OS scheduler is too coarse for
// step pulse widths.
func (platformClock) DelayMicros(us uint32) {
	d := time.Duration(us) * time.Microsecond
	if d > time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
