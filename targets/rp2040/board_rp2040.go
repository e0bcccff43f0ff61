//go:build rp2040

package main

import "machine"

// Timer peripheral base (TIMER0 on rp2350)
const timerBase = 0x40054000

const mcuName = "rp2040"

const (
	debugTX = machine.GPIO4
	debugRX = machine.GPIO5
)
