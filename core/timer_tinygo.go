//go:build tinygo

package core

import (
	"time"

	"tinygo.org/x/drivers/delay"
)

var bootTime = time.Now()

// platformClock uses the MCU's monotonic time and cycle-counted busy waits
type platformClock struct{}

func (platformClock) Micros() uint32 {
	return uint32(time.Since(bootTime).Microseconds())
}

func (platformClock) DelayMicros(us uint32) {
	// delay.Sleep falls back to time.Sleep beyond ~16ms by itself
	delay.Sleep(time.Duration(us) * time.Microsecond)
}
