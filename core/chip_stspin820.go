package core

// STSPIN820 is ST's 256-microstep driver.
//
// The datasheet patterns (0bMS3,MS2,MS1) are listed for 1, 2, 4, 8, 16, 32,
// 128 and 256 microsteps; the chip has no 1/64 mode. Indexed by log2, the
// table reads them as 1..128 instead: 0b110 is requested as 1/64 but the
// chip runs 1/128, and 0b111 is requested as 1/128 but the chip runs 1/256.
// MaxMicrostep is therefore 128, and step timing at the two finest settings
// is half the chip's real resolution.
var STSPIN820 = mustChip("STSPIN820",
	[]uint8{0b000, 0b001, 0b010, 0b011, 0b100, 0b101, 0b110, 0b111},
	Timing{
		StepHighMinNs: 1000, // tA
		StepLowMinNs:  1000, // tB
		WakeUpNs:      1000000,
		SetupNs:       200,
	})
