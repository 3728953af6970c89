//go:build !linux

package boot

func clockSynced() bool { return wallClockSane() }
