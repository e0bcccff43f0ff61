package core

// SelectorPins is the microstep select line group. A driver holds it as a
// single optional value: nil means the lines are strapped in hardware.
type SelectorPins struct {
	MS1 GPIOPin
	MS2 GPIOPin
	MS3 GPIOPin
}

// complete reports whether every line in the group is wired
func (s *SelectorPins) complete() bool {
	return s != nil && s.MS1.Connected() && s.MS2.Connected() && s.MS3.Connected()
}

// LookupPattern returns the selector pattern for a resolution.
//
// Bit positions 0..len(table)-1 are scanned and the entry at the lowest set
// bit of microsteps is returned. ok is false when no position matches, i.e.
// the resolution is beyond the table.
func LookupPattern(table []uint8, microsteps uint16) (pattern uint8, ok bool) {
	for i := range table {
		if microsteps&(1<<i) != 0 {
			return table[i], true
		}
	}
	return 0, false
}

func isPowerOfTwo(v uint16) bool {
	return v != 0 && v&(v-1) == 0
}

// writeSelector drives each selector line from its bit of pattern
func writeSelector(gpio GPIODriver, sel *SelectorPins, pattern uint8) error {
	if err := gpio.SetPin(sel.MS3, pattern&0b100 != 0); err != nil {
		return err
	}
	if err := gpio.SetPin(sel.MS2, pattern&0b010 != 0); err != nil {
		return err
	}
	return gpio.SetPin(sel.MS1, pattern&0b001 != 0)
}
