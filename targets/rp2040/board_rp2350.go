//go:build rp2350

package main

import "machine"

// Timer peripheral base (TIMER0 on rp2350)
const timerBase = 0x400b0000

const mcuName = "rp2350"

const (
	debugTX = machine.GPIO36
	debugRX = machine.GPIO37
)
