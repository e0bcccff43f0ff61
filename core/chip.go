package core

import "errors"

// Chip describes a STEP/DIR driver chip variant: how its microstep selector
// lines are encoded and which timing it needs on STEP.
type Chip interface {
	// Name returns the chip's part name
	Name() string

	// MicrostepTable returns the selector patterns indexed by log2(microsteps).
	// Bit 0 of a pattern drives MS1, bit 1 MS2 and bit 2 MS3.
	MicrostepTable() []uint8

	// MaxMicrostep returns the finest supported resolution,
	// always 1 << (len(MicrostepTable())-1)
	MaxMicrostep() uint16

	// Timing returns the chip's electrical timing constraints
	Timing() Timing
}

// Timing holds the per-chip timing constraints the step engine honors.
type Timing struct {
	StepHighMinNs uint32 // Minimum STEP HIGH pulse width (ns)
	StepLowMinNs  uint32 // Minimum STEP LOW pulse width (ns)
	WakeUpNs      uint32 // Sleep/enable deassertion to first valid STEP (ns)
	SetupNs       uint32 // DIR/ENABLE/MSx change to STEP rising edge (ns)
}

// SelectorPinCount is the width of a selector pattern
const SelectorPinCount = 3

// maxTableSize keeps the maximum resolution within a uint16
const maxTableSize = 16

var (
	ErrEmptyTable     = errors.New("microstep table is empty")
	ErrTableTooLarge  = errors.New("microstep table exceeds 16 entries")
	ErrPatternTooWide = errors.New("microstep pattern wider than selector group")
	ErrUnknownChip    = errors.New("unknown chip")
)

// ChipVariant is the static configuration record for one chip.
// The maximum resolution is derived from the table length.
type ChipVariant struct {
	name   string
	table  []uint8
	timing Timing
}

// NewChipVariant validates and builds a chip description.
func NewChipVariant(name string, table []uint8, timing Timing) (*ChipVariant, error) {
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	if len(table) > maxTableSize {
		return nil, ErrTableTooLarge
	}
	for _, pattern := range table {
		if pattern >= 1<<SelectorPinCount {
			return nil, ErrPatternTooWide
		}
	}
	return &ChipVariant{
		name:   name,
		table:  append([]uint8(nil), table...),
		timing: timing,
	}, nil
}

func mustChip(name string, table []uint8, timing Timing) *ChipVariant {
	c, err := NewChipVariant(name, table, timing)
	if err != nil {
		panic(name + ": " + err.Error())
	}
	return c
}

func (c *ChipVariant) Name() string {
	return c.name
}

// MicrostepTable returns the chip's encoding table. Callers must not modify it.
func (c *ChipVariant) MicrostepTable() []uint8 {
	return c.table
}

func (c *ChipVariant) MaxMicrostep() uint16 {
	return 1 << (len(c.table) - 1)
}

func (c *ChipVariant) Timing() Timing {
	return c.timing
}

// chips lists the built-in variants. The index is the chip id used on the wire.
var chips = []*ChipVariant{
	STSPIN820,
	A4988,
	DRV8825,
	Generic,
}

// Chips returns the built-in chip variants in wire-id order
func Chips() []*ChipVariant {
	return chips
}

// ChipByName looks up a built-in chip by its part name
func ChipByName(name string) (*ChipVariant, error) {
	for _, c := range chips {
		if c.name == name {
			return c, nil
		}
	}
	return nil, ErrUnknownChip
}

// ChipByID looks up a built-in chip by wire id
func ChipByID(id uint8) (*ChipVariant, error) {
	if int(id) >= len(chips) {
		return nil, ErrUnknownChip
	}
	return chips[id], nil
}
