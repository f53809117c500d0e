package util

import "time"

// TimeOperation runs op and returns how long it took. Durations are
// reported to InfluxDB in whole microseconds, see Micros.
func TimeOperation(op func()) time.Duration {
	start := time.Now()
	op()
	return time.Since(start)
}

// Micros converts d to the unsigned microsecond count used by the
// acquisition counters. Negative durations count as zero.
func Micros(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d.Microseconds())
}
