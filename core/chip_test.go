package core

import "testing"

func TestChipMaxMicrostepMatchesTable(t *testing.T) {
	expected := map[string]uint16{
		"STSPIN820": 128,
		"A4988":     16,
		"DRV8825":   32,
		"generic":   128,
	}
	for _, chip := range Chips() {
		max := chip.MaxMicrostep()
		if max != 1<<(len(chip.MicrostepTable())-1) {
			t.Errorf("%s: max %d does not match table length %d", chip.Name(), max, len(chip.MicrostepTable()))
		}
		if max != expected[chip.Name()] {
			t.Errorf("%s: expected max %d, got %d", chip.Name(), expected[chip.Name()], max)
		}
	}
}

func TestLookupPatternEveryResolution(t *testing.T) {
	for _, chip := range Chips() {
		table := chip.MicrostepTable()
		for k := range table {
			pattern, ok := LookupPattern(table, 1<<k)
			if !ok {
				t.Errorf("%s: no pattern for 1/%d", chip.Name(), 1<<k)
				continue
			}
			if pattern != table[k] {
				t.Errorf("%s: 1/%d expected pattern %03b, got %03b", chip.Name(), 1<<k, table[k], pattern)
			}
		}
	}
}

func TestLookupPatternKnownValues(t *testing.T) {
	tests := []struct {
		chip       Chip
		microsteps uint16
		pattern    uint8
	}{
		{STSPIN820, 1, 0b000},
		{STSPIN820, 8, 0b011},
		{STSPIN820, 128, 0b111},
		{A4988, 8, 0b011},
		{A4988, 16, 0b111},
		{DRV8825, 16, 0b100},
		{DRV8825, 32, 0b111},
	}
	for _, tt := range tests {
		pattern, ok := LookupPattern(tt.chip.MicrostepTable(), tt.microsteps)
		if !ok || pattern != tt.pattern {
			t.Errorf("%s 1/%d: expected %03b, got %03b (ok=%v)", tt.chip.Name(), tt.microsteps, tt.pattern, pattern, ok)
		}
	}
}

func TestLookupPatternBeyondTable(t *testing.T) {
	if _, ok := LookupPattern(A4988.MicrostepTable(), 32); ok {
		t.Error("Expected no pattern for 1/32 on a 5 entry table")
	}
	if _, ok := LookupPattern(STSPIN820.MicrostepTable(), 256); ok {
		t.Error("Expected no pattern for 1/256 on an 8 entry table")
	}
	if _, ok := LookupPattern(STSPIN820.MicrostepTable(), 0); ok {
		t.Error("Expected no pattern for 0")
	}
}

func TestLookupPatternLowestSetBit(t *testing.T) {
	table := STSPIN820.MicrostepTable()
	// 24 = 0b11000, bit 3 is the lowest set bit
	pattern, ok := LookupPattern(table, 24)
	if !ok || pattern != table[3] {
		t.Errorf("Expected table[3]=%03b, got %03b (ok=%v)", table[3], pattern, ok)
	}
}

func TestNewChipVariantValidation(t *testing.T) {
	if _, err := NewChipVariant("empty", nil, Timing{}); err != ErrEmptyTable {
		t.Errorf("Expected ErrEmptyTable, got %v", err)
	}
	if _, err := NewChipVariant("big", make([]uint8, 17), Timing{}); err != ErrTableTooLarge {
		t.Errorf("Expected ErrTableTooLarge, got %v", err)
	}
	if _, err := NewChipVariant("wide", []uint8{0, 8}, Timing{}); err != ErrPatternTooWide {
		t.Errorf("Expected ErrPatternTooWide, got %v", err)
	}

	table := []uint8{0b000, 0b001, 0b011}
	c, err := NewChipVariant("custom", table, Timing{StepHighMinNs: 500})
	if err != nil {
		t.Fatalf("NewChipVariant failed: %v", err)
	}
	if c.MaxMicrostep() != 4 {
		t.Errorf("Expected max 4, got %d", c.MaxMicrostep())
	}
	// The table is copied
	table[1] = 0b111
	if c.MicrostepTable()[1] != 0b001 {
		t.Error("Chip table aliases the caller's slice")
	}
}

func TestChipLookup(t *testing.T) {
	c, err := ChipByName("DRV8825")
	if err != nil || c != DRV8825 {
		t.Errorf("Expected DRV8825, got %v (%v)", c, err)
	}
	if _, err := ChipByName("TMC2209"); err != ErrUnknownChip {
		t.Errorf("Expected ErrUnknownChip, got %v", err)
	}
	for i, chip := range Chips() {
		c, err := ChipByID(uint8(i))
		if err != nil || c != chip {
			t.Errorf("ChipByID(%d): expected %s, got %v (%v)", i, chip.Name(), c, err)
		}
	}
	if _, err := ChipByID(uint8(len(Chips()))); err != ErrUnknownChip {
		t.Errorf("Expected ErrUnknownChip, got %v", err)
	}
}

func TestChipTimings(t *testing.T) {
	if tm := DRV8825.Timing(); tm.StepHighMinNs != 1900 || tm.WakeUpNs != 1700000 {
		t.Errorf("Unexpected DRV8825 timing %+v", tm)
	}
	if tm := STSPIN820.Timing(); tm.WakeUpNs != 1000000 {
		t.Errorf("Unexpected STSPIN820 timing %+v", tm)
	}
}
