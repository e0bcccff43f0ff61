package core

import (
	"errors"

	"stepdriver/protocol"
)

type gpioEvent struct {
	op    string // "config" or "set"
	pin   GPIOPin
	value bool
}

// mockGPIO records every pin operation
type mockGPIO struct {
	events  []gpioEvent
	failPin GPIOPin
	failed  bool
}

func newMockGPIO() *mockGPIO {
	return &mockGPIO{failPin: PinUnconnected}
}

func (m *mockGPIO) ConfigureOutput(pin GPIOPin) error {
	if !pin.Connected() {
		return errors.New("configure of unconnected pin")
	}
	m.events = append(m.events, gpioEvent{op: "config", pin: pin})
	return nil
}

func (m *mockGPIO) SetPin(pin GPIOPin, value bool) error {
	if !pin.Connected() {
		return errors.New("write to unconnected pin")
	}
	if pin == m.failPin {
		m.failed = true
		return errors.New("pin write failed")
	}
	m.events = append(m.events, gpioEvent{op: "set", pin: pin, value: value})
	return nil
}

func (m *mockGPIO) reset() {
	m.events = nil
}

// touched reports whether any event involved pin
func (m *mockGPIO) touched(pin GPIOPin) bool {
	for _, e := range m.events {
		if e.pin == pin {
			return true
		}
	}
	return false
}

// writes returns the values written to pin in order
func (m *mockGPIO) writes(pin GPIOPin) []bool {
	var out []bool
	for _, e := range m.events {
		if e.op == "set" && e.pin == pin {
			out = append(out, e.value)
		}
	}
	return out
}

// rising counts low to high writes on pin
func (m *mockGPIO) rising(pin GPIOPin) int {
	n := 0
	for _, v := range m.writes(pin) {
		if v {
			n++
		}
	}
	return n
}

// mockClock advances only when delayed or told to
type mockClock struct {
	now    uint32
	delays []uint32
}

func newMockClock() *mockClock {
	return &mockClock{now: 1000}
}

func (c *mockClock) Micros() uint32 {
	return c.now
}

func (c *mockClock) DelayMicros(us uint32) {
	c.delays = append(c.delays, us)
	c.now += us
}

func (c *mockClock) hasDelay(us uint32) bool {
	for _, d := range c.delays {
		if d == us {
			return true
		}
	}
	return false
}

// sentMessage is a captured response
type sentMessage struct {
	cmdID uint16
	args  []byte
}

// captureSender collects responses instead of writing frames
type captureSender struct {
	sent []sentMessage
}

func (s *captureSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) error {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	s.sent = append(s.sent, sentMessage{cmdID: cmdID, args: out.Result()})
	return nil
}

// byName returns the decoded arguments of every response named name
func (s *captureSender) byName(name string) [][]uint32 {
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		return nil
	}
	var out [][]uint32
	for _, m := range s.sent {
		if m.cmdID != cmd.ID {
			continue
		}
		data := m.args
		var vals []uint32
		for len(data) > 0 {
			v, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				break
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return out
}

// Pin numbers used across tests
const (
	testDir    GPIOPin = 2
	testStep   GPIOPin = 3
	testEnable GPIOPin = 4
	testMS1    GPIOPin = 5
	testMS2    GPIOPin = 6
	testMS3    GPIOPin = 7
)

func fullSelector() *SelectorPins {
	return &SelectorPins{MS1: testMS1, MS2: testMS2, MS3: testMS3}
}

func newTestDriver(chip Chip, sel *SelectorPins) (*Driver, *mockGPIO, *mockClock) {
	gpio := newMockGPIO()
	clk := newMockClock()
	d := NewDriver(chip, DriverConfig{
		Steps:     200,
		DirPin:    testDir,
		StepPin:   testStep,
		EnablePin: testEnable,
		Selector:  sel,
		GPIO:      gpio,
		Clock:     clk,
	})
	return d, gpio, clk
}
