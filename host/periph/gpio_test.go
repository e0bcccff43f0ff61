package periph

import (
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"stepdriver/core"
)

func testPins() (*GPIO, map[string]*gpiotest.Pin) {
	pins := map[string]*gpiotest.Pin{
		"GPIO17": {N: "GPIO17", Num: 17},
		"GPIO27": {N: "GPIO27", Num: 27},
		"GPIO22": {N: "GPIO22", Num: 22},
		"GPIO5":  {N: "GPIO5", Num: 5},
		"GPIO6":  {N: "GPIO6", Num: 6},
		"GPIO13": {N: "GPIO13", Num: 13},
	}
	return New(func(name string) gpio.PinIO {
		if p, ok := pins[name]; ok {
			return p
		}
		return nil
	}), pins
}

func TestConfigureAndSet(t *testing.T) {
	g, pins := testPins()
	if err := g.ConfigureOutput(17); err != nil {
		t.Fatalf("ConfigureOutput failed: %v", err)
	}
	if err := g.SetPin(17, true); err != nil {
		t.Fatalf("SetPin failed: %v", err)
	}
	if pins["GPIO17"].Read() != gpio.High {
		t.Error("Expected GPIO17 high")
	}
	if err := g.SetPin(27, true); err == nil {
		t.Error("Expected error writing an unconfigured pin")
	}
	if err := g.ConfigureOutput(99); err == nil {
		t.Error("Expected error for unknown pin")
	}
	if err := g.ConfigureOutput(core.PinUnconnected); err == nil {
		t.Error("Expected error for unconnected pin")
	}
}

func TestDriverOnPeriphPins(t *testing.T) {
	g, pins := testPins()
	d := core.NewDriver(core.DRV8825, core.DriverConfig{
		Steps:     200,
		DirPin:    17,
		StepPin:   27,
		EnablePin: 22,
		Selector:  &core.SelectorPins{MS1: 5, MS2: 6, MS3: 13},
		GPIO:      g,
	})
	if err := d.Begin(60, 32); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	for _, name := range []string{"GPIO5", "GPIO6", "GPIO13"} {
		if pins[name].Read() != gpio.High {
			t.Errorf("Expected %s high for 1/32", name)
		}
	}
	if pins["GPIO22"].Read() != gpio.Low {
		t.Error("Expected ENABLE low (enabled)")
	}
	if _, err := d.SetMicrostep(4); err != nil {
		t.Fatalf("SetMicrostep failed: %v", err)
	}
	if pins["GPIO5"].Read() != gpio.Low || pins["GPIO6"].Read() != gpio.High || pins["GPIO13"].Read() != gpio.Low {
		t.Error("Expected pattern 010 for 1/4")
	}
}
