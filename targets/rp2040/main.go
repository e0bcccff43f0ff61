//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"
	"time"

	"stepdriver/core"
	"stepdriver/protocol"
)

var errUSBStalled = errors.New("usb write stalled")

var (
	transport *protocol.Transport
	usbOut    = &usbWriter{}

	// Debug counters
	messagesReceived uint32
	msgerrors        uint32
)

// ledBlink blinks the LED a specific number of times for diagnostics
func ledBlink(count int) {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for i := 0; i < count; i++ {
		led.High()
		time.Sleep(150 * time.Millisecond)
		led.Low()
		time.Sleep(150 * time.Millisecond)
	}
}

func main() {
	InitUSB()
	InitDebugUART()
	InitClock()

	core.SetGPIODriver(NewRPGPIODriver())
	core.InitCommands()

	transport = protocol.NewTransport(usbOut, handleCommand)
	transport.SetResetCallback(func() {
		// Host restarted, drop drivers it configured earlier
		core.ResetDrivers()
	})
	transport.SetErrorHandler(func(cmdID uint16, err error) {
		msgerrors++
		core.DebugPrintln("[MAIN] command " + itoa(int(cmdID)) + ": " + err.Error())
	})
	core.SetGlobalTransport(transport)

	ledBlink(1)

	buf := make([]byte, 64)
	for {
		func() {
			// A panicking handler must not take the firmware down
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					core.TryShutdown("panic in main loop")
				}
			}()

			if n := readUSB(buf); n > 0 {
				transport.Receive(buf[:n])
				messagesReceived++
			}

			if usbOut.failures > 10 {
				// Host went away; start clean when it returns
				usbOut.failures = 0
				transport.Reset()
			}

			core.ServiceDrivers()
		}()
	}
}

// handleCommand dispatches received commands to the command registry
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// itoa converts int to string without importing strconv (for embedded)
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	negative := i < 0
	if negative {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
