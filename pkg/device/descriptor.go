package device

import (
	"fmt"

	"github.com/norasector/dabdevice/pkg/dab"
)

// RateRange is an inclusive range of sample rates in Hz. A single
// supported rate has Min == Max.
type RateRange struct {
	Min int
	Max int
}

func Rate(hz int) RateRange {
	return RateRange{Min: hz, Max: hz}
}

func (r RateRange) Contains(hz int) bool {
	return hz >= r.Min && hz <= r.Max
}

func (r RateRange) String() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Capabilities describes the optional controls a device offers.
type Capabilities struct {
	// Tuning is set when the center frequency can be changed within FrequencyRange.
	Tuning         bool
	FrequencyRange dab.FrequencyRange

	// GainControl is set when a manual gain from Gains can be applied.
	GainControl   bool
	Gains         []dab.Gain
	AutomaticGain bool

	// Loop is set for replay sources that can rewind at the end of input.
	Loop bool

	// Shared devices may be opened by more than one handle at a time.
	// Devices are exclusive unless their driver says otherwise.
	Shared bool
}

// Descriptor is the immutable description of one sampling source. The
// registry hands out copies; callers must not rely on mutating one.
type Descriptor struct {
	// ID is stable across enumerations, "<driver>:<key>".
	ID           string
	Name         string
	Driver       string
	Formats      []Format
	Rates        []RateRange
	Capabilities Capabilities
}

func (d Descriptor) Clone() Descriptor {
	c := d
	c.Formats = append([]Format(nil), d.Formats...)
	c.Rates = append([]RateRange(nil), d.Rates...)
	c.Capabilities.Gains = append([]dab.Gain(nil), d.Capabilities.Gains...)
	return c
}

func (d Descriptor) Exclusive() bool {
	return !d.Capabilities.Shared
}

func (d Descriptor) SupportsFormat(f Format) bool {
	for _, supported := range d.Formats {
		if supported == f {
			return true
		}
	}
	return false
}

func (d Descriptor) SupportsRate(hz int) bool {
	for _, r := range d.Rates {
		if r.Contains(hz) {
			return true
		}
	}
	return false
}

// Check validates cfg against the descriptor's supported sets.
func (d Descriptor) Check(cfg Config) error {
	if !d.SupportsFormat(cfg.Format) {
		return &Error{Op: "open", Device: d.ID, Kind: ErrUnsupportedFormat,
			Err: fmt.Errorf("format %s not in %v", cfg.Format, d.Formats)}
	}
	if !d.SupportsRate(cfg.SampleRate) {
		return &Error{Op: "open", Device: d.ID, Kind: ErrUnsupportedRate,
			Err: fmt.Errorf("sample rate %d not in %v", cfg.SampleRate, d.Rates)}
	}

	caps := d.Capabilities
	if cfg.Frequency != nil {
		if !caps.Tuning {
			return &Error{Op: "open", Device: d.ID, Kind: ErrInvalidConfig, Err: fmt.Errorf("device cannot be tuned")}
		}
		if !caps.FrequencyRange.Contains(*cfg.Frequency) {
			return &Error{Op: "open", Device: d.ID, Kind: ErrInvalidConfig,
				Err: fmt.Errorf("frequency %s outside %s", *cfg.Frequency, caps.FrequencyRange)}
		}
	}
	if cfg.Gain != nil {
		if err := d.checkGain(*cfg.Gain); err != nil {
			return &Error{Op: "open", Device: d.ID, Kind: ErrInvalidConfig, Err: err}
		}
	}
	if cfg.AutomaticGain && !caps.AutomaticGain {
		return &Error{Op: "open", Device: d.ID, Kind: ErrInvalidConfig, Err: fmt.Errorf("automatic gain control not supported")}
	}
	if cfg.Loop && !caps.Loop {
		return &Error{Op: "open", Device: d.ID, Kind: ErrInvalidConfig, Err: fmt.Errorf("looping not supported")}
	}
	return nil
}

func (d Descriptor) checkGain(g dab.Gain) error {
	if !d.Capabilities.GainControl {
		return fmt.Errorf("device has no gain control")
	}
	return checkGainIn(d.Capabilities.Gains, g)
}

// checkGainIn accepts g when it lies within the range of gains. An empty
// table accepts any gain.
func checkGainIn(gains []dab.Gain, g dab.Gain) error {
	if len(gains) == 0 {
		return nil
	}
	low, high := dab.GainRange(gains)
	if g < low || g > high {
		return fmt.Errorf("gain %s outside %s - %s", g, low, high)
	}
	return nil
}
