package dab

import (
	"math"
	"strconv"
)

// Gain is a receiver gain in dB.
type Gain float32

func (g Gain) String() string {
	return strconv.FormatFloat(float64(g), 'f', -1, 32) + " dB"
}

// TenthsDB returns the gain in tenths of a dB, the unit librtlsdr uses.
func (g Gain) TenthsDB() int {
	return int(math.Round(float64(g) * 10))
}

func GainFromTenthsDB(v int) Gain {
	return Gain(float32(v) / 10)
}

// ClosestGain returns the gain in gains nearest to target. Ties go to the
// earlier entry. ok is false when gains is empty.
func ClosestGain(gains []Gain, target Gain) (closest Gain, ok bool) {
	if len(gains) == 0 {
		return 0, false
	}
	closest = gains[0]
	for _, g := range gains[1:] {
		if math.Abs(float64(target-g)) < math.Abs(float64(target-closest)) {
			closest = g
		}
	}
	return closest, true
}

// GainRange returns the smallest and largest gain in gains.
func GainRange(gains []Gain) (low, high Gain) {
	if len(gains) == 0 {
		return 0, 0
	}
	low, high = gains[0], gains[0]
	for _, g := range gains[1:] {
		if g < low {
			low = g
		}
		if g > high {
			high = g
		}
	}
	return
}
