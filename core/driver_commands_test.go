package core

import (
	"testing"

	"stepdriver/protocol"
)

type firmwareHarness struct {
	gpio   *mockGPIO
	clock  *mockClock
	sender *captureSender
}

func newFirmwareHarness(t *testing.T) *firmwareHarness {
	t.Helper()
	InitCommands()
	h := &firmwareHarness{
		gpio:   newMockGPIO(),
		clock:  newMockClock(),
		sender: &captureSender{},
	}
	SetGPIODriver(h.gpio)
	SetClock(h.clock)
	SetGlobalTransport(h.sender)
	h.send(t, "config_reset")
	t.Cleanup(func() {
		ResetDrivers()
		SetGlobalTransport(nil)
		SetClock(nil)
	})
	return h
}

// send dispatches a command by name with VLQ encoded arguments
func (h *firmwareHarness) send(t *testing.T, name string, args ...int32) error {
	t.Helper()
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("Command %s not registered", name)
	}
	out := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQInt(out, a)
	}
	data := out.Result()
	err := DispatchCommand(cmd.ID, &data)
	if err == nil && len(data) != 0 {
		t.Errorf("%s left %d undecoded bytes", name, len(data))
	}
	return err
}

func (h *firmwareHarness) mustSend(t *testing.T, name string, args ...int32) {
	t.Helper()
	if err := h.send(t, name, args...); err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
}

const unconnected = -1 // PinUnconnected on the wire

func (h *firmwareHarness) configure(t *testing.T, oid int32, chip *ChipVariant, selector bool) {
	t.Helper()
	id := int32(-1)
	for i, c := range Chips() {
		if c == chip {
			id = int32(i)
		}
	}
	ms1, ms2, ms3 := int32(unconnected), int32(unconnected), int32(unconnected)
	if selector {
		ms1, ms2, ms3 = int32(testMS1), int32(testMS2), int32(testMS3)
	}
	h.mustSend(t, "config_stepper_driver", oid, id, 200,
		int32(testDir), int32(testStep), int32(testEnable), ms1, ms2, ms3, 0)
}

func TestConfigStepperDriver(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, A4988, true)

	inst, ok := GetDriver(0)
	if !ok {
		t.Fatal("Driver 0 not registered")
	}
	if inst.Driver.Chip() != A4988 {
		t.Errorf("Expected A4988, got %s", inst.Driver.Chip().Name())
	}
	if !inst.Driver.SelectorConnected() {
		t.Error("Expected selector connected")
	}
	// Configuring does not touch pins until begin
	if len(h.gpio.events) != 0 {
		t.Errorf("Expected no pin activity, got %+v", h.gpio.events)
	}

	if err := h.send(t, "config_stepper_driver", 0, 0, 200, 2, 3, 4, -1, -1, -1, 0); err != ErrOIDInUse {
		t.Errorf("Expected ErrOIDInUse, got %v", err)
	}
	if err := h.send(t, "config_stepper_driver", 1, 99, 200, 2, 3, 4, -1, -1, -1, 0); err != ErrUnknownChip {
		t.Errorf("Expected ErrUnknownChip, got %v", err)
	}
	if err := h.send(t, "config_stepper_driver", MaxDrivers, 0, 200, 2, 3, 4, -1, -1, -1, 0); err != ErrInvalidOID {
		t.Errorf("Expected ErrInvalidOID, got %v", err)
	}
}

func TestConfigStepperDriverArgumentRange(t *testing.T) {
	h := newFirmwareHarness(t)

	// Values that would wrap into a valid oid or chip id are refused
	if err := h.send(t, "config_stepper_driver", 256, 0, 200, 2, 3, 4, -1, -1, -1, 0); err != ErrInvalidOID {
		t.Errorf("Expected ErrInvalidOID, got %v", err)
	}
	if _, ok := GetDriver(0); ok {
		t.Error("oid 256 registered as oid 0")
	}
	if err := h.send(t, "config_stepper_driver", 1, 256, 200, 2, 3, 4, -1, -1, -1, 0); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for chip 256, got %v", err)
	}
	if err := h.send(t, "config_stepper_driver", 1, 0, 65736, 2, 3, 4, -1, -1, -1, 0); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for steps 65736, got %v", err)
	}
	if err := h.send(t, "config_stepper_driver", 1, 0, 200, 2, 3, 4, -1, -1, -1, 2); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for enable_active_high 2, got %v", err)
	}
	if _, ok := GetDriver(1); ok {
		t.Error("Driver registered despite invalid arguments")
	}

	h.configure(t, 0, A4988, false)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 1)
	if err := h.send(t, "stepper_driver_set_rpm", 256, 1000); err != ErrInvalidOID {
		t.Errorf("Expected ErrInvalidOID, got %v", err)
	}
	if err := h.send(t, "stepper_driver_set_microstep", 0, 65537); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for microsteps 65537, got %v", err)
	}
	if err := h.send(t, "stepper_driver_set_profile", 0, 257, 1, 1); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for mode 257, got %v", err)
	}
	if err := h.send(t, "stepper_driver_stop", 0, 256); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument for brake 256, got %v", err)
	}
	inst, _ := GetDriver(0)
	if inst.Driver.RPM() != 60 || inst.Driver.Microsteps() != 1 {
		t.Errorf("Expected 60 rpm at 1/1, got %v at 1/%d", inst.Driver.RPM(), inst.Driver.Microsteps())
	}
	if inst.Driver.SpeedProfile().Mode != ConstantSpeed {
		t.Errorf("Expected constant speed, got %d", inst.Driver.SpeedProfile().Mode)
	}
}

func TestConfigStepperDriverGeneric(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, Generic, false)
	inst, ok := GetDriver(0)
	if !ok || inst.Driver.Chip() != Generic {
		t.Fatalf("Expected generic driver, got %v", inst)
	}
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 256)
	if inst.Driver.Microsteps() != 128 {
		t.Errorf("Expected 128 microsteps, got %d", inst.Driver.Microsteps())
	}
}

func TestConfigStepperDriverEnableActiveHigh(t *testing.T) {
	h := newFirmwareHarness(t)
	h.mustSend(t, "config_stepper_driver", 0, 1, 200,
		int32(testDir), int32(testStep), int32(testEnable), unconnected, unconnected, unconnected, 1)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 1)

	// Begin leaves the chip disabled (LOW) and then enables it (HIGH)
	w := h.gpio.writes(testEnable)
	if len(w) != 2 || w[0] || !w[1] {
		t.Fatalf("Expected ENABLE low then high, got %v", w)
	}
	h.mustSend(t, "stepper_driver_enable", 0, 0)
	w = h.gpio.writes(testEnable)
	if w[len(w)-1] {
		t.Error("Expected ENABLE low when disabled")
	}
}

func TestStepperDriverSetMicrostepResponse(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 2, STSPIN820, true)
	h.mustSend(t, "stepper_driver_begin", 2, 60000, 1)
	h.gpio.reset()

	h.mustSend(t, "stepper_driver_set_microstep", 2, 8)
	resp := h.sender.byName("stepper_driver_microstep")
	if len(resp) != 1 || resp[0][0] != 2 || resp[0][1] != 8 {
		t.Fatalf("Unexpected response %v", resp)
	}
	if w := h.gpio.writes(testMS3); len(w) != 1 || w[0] {
		t.Errorf("Expected MS3 low, got %v", w)
	}
	if w := h.gpio.writes(testMS1); len(w) != 1 || !w[0] {
		t.Errorf("Expected MS1 high, got %v", w)
	}
}

func TestStepperDriverMinimalWiring(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, STSPIN820, false)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 4)
	h.mustSend(t, "stepper_driver_set_microstep", 0, 32)

	for _, pin := range []GPIOPin{testMS1, testMS2, testMS3} {
		if h.gpio.touched(pin) {
			t.Errorf("Selector pin %d touched", pin)
		}
	}
	resp := h.sender.byName("stepper_driver_microstep")
	if len(resp) != 1 || resp[0][1] != 32 {
		t.Errorf("Expected 32 in effect, got %v", resp)
	}
}

func TestStepperDriverMoveServiced(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 1, DRV8825, false)
	h.mustSend(t, "stepper_driver_begin", 1, 120000, 1)
	h.gpio.reset()

	if err := h.send(t, "stepper_driver_move", 1, -6); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	for i := 0; i < 1000 && len(h.sender.byName("stepper_driver_move_done")) == 0; i++ {
		ServiceDrivers()
		h.clock.now += 100
	}
	done := h.sender.byName("stepper_driver_move_done")
	if len(done) != 1 || done[0][0] != 1 || done[0][1] != 6 {
		t.Fatalf("Expected move_done for 6 steps, got %v", done)
	}
	if n := h.gpio.rising(testStep); n != 6 {
		t.Errorf("Expected 6 step pulses, got %d", n)
	}
	if w := h.gpio.writes(testDir); len(w) != 1 || w[0] {
		t.Errorf("Expected DIR low, got %v", w)
	}
}

func TestStepperDriverMoveRequiresBegin(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, A4988, false)
	if err := h.send(t, "stepper_driver_move", 0, 10); err != ErrDriverNotBegun {
		t.Errorf("Expected ErrDriverNotBegun, got %v", err)
	}
	if err := h.send(t, "stepper_driver_move", 5, 10); err != ErrDriverNotFound {
		t.Errorf("Expected ErrDriverNotFound, got %v", err)
	}
}

func TestStepperDriverStatus(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, A4988, true)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 16)
	h.mustSend(t, "stepper_driver_set_rpm", 0, 90500)
	h.mustSend(t, "stepper_driver_move", 0, 100)
	h.mustSend(t, "stepper_driver_get_status", 0)

	status := h.sender.byName("stepper_driver_status")
	if len(status) != 1 {
		t.Fatalf("Expected one status, got %v", status)
	}
	if s := status[0]; s[0] != 0 || s[1] != 16 || s[2] != 90500 || s[3] != 100 {
		t.Errorf("Unexpected status %v", s)
	}
}

func TestStepperDriverStopAndProfile(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, A4988, false)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 1)
	h.mustSend(t, "stepper_driver_set_profile", 0, int32(LinearSpeed), 2000, 500)

	inst, _ := GetDriver(0)
	if p := inst.Driver.SpeedProfile(); p.Mode != LinearSpeed || p.Accel != 2000 || p.Decel != 500 {
		t.Errorf("Unexpected profile %+v", p)
	}
	if err := h.send(t, "stepper_driver_set_profile", 0, 7, 1, 1); err != ErrInvalidArgument {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}

	h.mustSend(t, "stepper_driver_move", 0, 1000)
	h.mustSend(t, "stepper_driver_stop", 0, 0)
	if inst.Driver.StepsRemaining() != 0 {
		t.Errorf("Expected move aborted, %d left", inst.Driver.StepsRemaining())
	}
	ServiceDrivers()
	if len(h.sender.byName("stepper_driver_move_done")) != 1 {
		t.Error("Expected move_done after stop")
	}
}

func TestEmergencyStop(t *testing.T) {
	h := newFirmwareHarness(t)
	h.configure(t, 0, A4988, false)
	h.mustSend(t, "stepper_driver_begin", 0, 60000, 1)
	h.mustSend(t, "stepper_driver_move", 0, 500)

	h.mustSend(t, "emergency_stop")
	if !IsShutdown() {
		t.Fatal("Expected shutdown")
	}
	inst, _ := GetDriver(0)
	if inst.Driver.StepsRemaining() != 0 {
		t.Error("Expected move aborted")
	}
	// Disabled means ENABLE high for active-low chips
	if w := h.gpio.writes(testEnable); w[len(w)-1] != true {
		t.Errorf("Expected driver disabled, got %v", w)
	}
	if err := h.send(t, "stepper_driver_move", 0, 10); err != ErrDriverShutdown {
		t.Errorf("Expected ErrDriverShutdown, got %v", err)
	}

	h.mustSend(t, "get_config")
	cfg := h.sender.byName("config")
	if len(cfg) != 1 || cfg[0][2] != 1 {
		t.Errorf("Expected is_shutdown=1, got %v", cfg)
	}

	h.mustSend(t, "config_reset")
	if IsShutdown() {
		t.Error("Expected shutdown cleared")
	}
	if _, ok := GetDriver(0); ok {
		t.Error("Expected drivers cleared by config_reset")
	}
}

func TestIdentify(t *testing.T) {
	h := newFirmwareHarness(t)
	cmd, _ := GetGlobalRegistry().GetCommandByName("identify")
	if cmd.ID != 1 {
		t.Errorf("Expected identify ID 1, got %d", cmd.ID)
	}
	h.mustSend(t, "identify", 0, 40)
	resp, _ := GetGlobalRegistry().GetCommandByName("identify_response")
	if len(h.sender.sent) != 1 || h.sender.sent[0].cmdID != resp.ID {
		t.Fatalf("Expected identify_response, got %+v", h.sender.sent)
	}
	data := h.sender.sent[0].args
	offset, _ := protocol.DecodeVLQUint(&data)
	chunk, err := protocol.DecodeVLQBytes(&data)
	if err != nil || offset != 0 {
		t.Fatalf("Bad identify_response: offset=%d err=%v", offset, err)
	}
	expected := GetGlobalDictionary().GetChunk(0, 40)
	if string(chunk) != string(expected) {
		t.Errorf("Expected %q, got %q", expected, chunk)
	}
}
