//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"time"
	"unsafe"

	"tinygo.org/x/drivers/delay"

	"stepdriver/core"
)

// Raw timer low word, same offset on both chips
const timerTIMERAWL = timerBase + 0x0C

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hardwareClock reads the 1MHz system timer directly
type hardwareClock struct{}

func (hardwareClock) Micros() uint32 {
	return timerRAWL.Get()
}

func (hardwareClock) DelayMicros(us uint32) {
	delay.Sleep(time.Duration(us) * time.Microsecond)
}

// InitClock installs the hardware timer as the step engine clock
func InitClock() {
	core.SetClock(hardwareClock{})
	core.RegisterConstant("MCU", mcuName)
}
