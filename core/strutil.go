package core

import "strconv"

// itoa formats debug values without pulling fmt into firmware builds
func itoa(n int) string {
	return strconv.Itoa(n)
}

// utoa formats an unsigned value
func utoa(n uint32) string {
	return strconv.FormatUint(uint64(n), 10)
}
