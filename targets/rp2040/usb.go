//go:build rp2040 || rp2350

package main

import (
	"machine"
)

// InitUSB initializes USB serial communication.
// machine.Serial is USB CDC on these chips.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// usbWriter hands transport output to USB CDC
type usbWriter struct {
	failures uint32
}

func (w *usbWriter) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := machine.Serial.Write(data[written:])
		if err != nil {
			w.failures++
			return written, err
		}
		if n == 0 {
			// No progress, likely disconnected
			w.failures++
			return written, errUSBStalled
		}
		written += n
	}
	w.failures = 0
	return written, nil
}

// readUSB drains the bytes USB has buffered into buf
func readUSB(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n
}
