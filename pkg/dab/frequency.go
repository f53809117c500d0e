package dab

import (
	"fmt"
	"math"
	"strconv"
)

// Frequency is a radio frequency in Hz.
type Frequency uint32

func Hz(v uint32) Frequency {
	return Frequency(v)
}

func KHz(v float64) Frequency {
	return Frequency(math.Round(v * 1e3))
}

func MHz(v float64) Frequency {
	return Frequency(math.Round(v * 1e6))
}

func (f Frequency) Hz() uint32 {
	return uint32(f)
}

func (f Frequency) MHz() float64 {
	return float64(f) / 1e6
}

func (f Frequency) String() string {
	return strconv.FormatFloat(f.MHz(), 'f', 3, 64) + " MHz"
}

// FrequencyRange is an inclusive tuning range.
type FrequencyRange struct {
	Min Frequency `yaml:"min"`
	Max Frequency `yaml:"max"`
}

func (r FrequencyRange) Contains(f Frequency) bool {
	return f >= r.Min && f <= r.Max
}

func (r FrequencyRange) String() string {
	return fmt.Sprintf("%s - %s", r.Min, r.Max)
}
