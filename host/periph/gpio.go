// Package periph drives STEP/DIR chips straight from a Linux board's GPIO
// header through periph.io.
package periph

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"stepdriver/core"
)

// PinLookup resolves a pin name such as "GPIO17"
type PinLookup func(name string) gpio.PinIO

// GPIO implements core.GPIODriver on periph pins. Pin numbers are the
// board's GPIO numbers.
type GPIO struct {
	mu     sync.Mutex
	lookup PinLookup
	pins   map[core.GPIOPin]gpio.PinOut
}

// Open initializes the host drivers and returns a GPIO backed by gpioreg
func Open() (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return New(gpioreg.ByName), nil
}

// New creates a GPIO resolving pins with lookup
func New(lookup PinLookup) *GPIO {
	return &GPIO{
		lookup: lookup,
		pins:   make(map[core.GPIOPin]gpio.PinOut),
	}
}

func pinName(pin core.GPIOPin) string {
	return "GPIO" + strconv.FormatUint(uint64(pin), 10)
}

// ConfigureOutput configures a pin as an output driven low
func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error {
	if !pin.Connected() {
		return fmt.Errorf("configure unconnected pin")
	}
	p := g.lookup(pinName(pin))
	if p == nil {
		return fmt.Errorf("no such pin %s", pinName(pin))
	}
	if err := p.Out(gpio.Low); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	g.mu.Lock()
	g.pins[pin] = p
	g.mu.Unlock()
	return nil
}

// SetPin drives a configured pin
func (g *GPIO) SetPin(pin core.GPIOPin, value bool) error {
	g.mu.Lock()
	p, ok := g.pins[pin]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin %s not configured as output", pinName(pin))
	}
	return p.Out(gpio.Level(value))
}
