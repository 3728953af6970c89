//go:build linux

package boot

import "golang.org/x/sys/unix"

const (
	timeError = 5    // TIME_ERROR
	staUnsync = 0x40 // STA_UNSYNC
)

// clockSynced asks kernel NTP discipline, falls back to wall clock sanity without permission.
func clockSynced() bool {
	var tx unix.Timex
	state, err := unix.Adjtimex(&tx)
	if err != nil {
		return wallClockSane()
	}
	return state != timeError && tx.Status&staUnsync == 0
}
