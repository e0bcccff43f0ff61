package core

// DRV8825 is TI's 1/32 microstep driver, 0bM2,M1,M0 wired to MS3,MS2,MS1.
var DRV8825 = mustChip("DRV8825",
	[]uint8{0b000, 0b001, 0b010, 0b011, 0b100, 0b111},
	Timing{
		StepHighMinNs: 1900,
		StepLowMinNs:  1900,
		WakeUpNs:      1700000,
		SetupNs:       650,
	})
