package core

// A4988 is Allegro's 1/16 microstep driver, 0bMS3,MS2,MS1.
// 1/16 needs all three lines high, 0b100..0b110 are unused.
var A4988 = mustChip("A4988",
	[]uint8{0b000, 0b001, 0b010, 0b011, 0b111},
	Timing{
		StepHighMinNs: 1000,
		StepLowMinNs:  1000,
		WakeUpNs:      1000000,
		SetupNs:       200,
	})
