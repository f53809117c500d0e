package device

import (
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/norasector/dabdevice/pkg/dab"
)

// Config is the acquisition configuration passed to Registry.Open.
// Gain and Frequency are optional; nil leaves the device default.
type Config struct {
	Format     Format         `yaml:"format"`
	SampleRate int            `yaml:"rate"`
	Gain       *dab.Gain      `yaml:"gain,omitempty"`
	Frequency  *dab.Frequency `yaml:"frequency,omitempty"`

	// AutomaticGain enables the device AGC. It cannot be combined with Gain.
	AutomaticGain bool `yaml:"agc,omitempty"`
	// Loop rewinds replay sources at the end of their input.
	Loop bool `yaml:"loop,omitempty"`
}

// ParseConfig decodes a YAML device configuration. Unknown fields are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields on their own, independent of any device.
func (c Config) Validate() error {
	if !c.Format.Valid() {
		return fmt.Errorf("%w: sample format not set", ErrInvalidConfig)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.Gain != nil && *c.Gain < 0 {
		return fmt.Errorf("%w: gain must not be negative, got %s", ErrInvalidConfig, *c.Gain)
	}
	if c.Frequency != nil && *c.Frequency == 0 {
		return fmt.Errorf("%w: frequency must not be zero", ErrInvalidConfig)
	}
	if c.Gain != nil && c.AutomaticGain {
		return fmt.Errorf("%w: manual gain and automatic gain are exclusive", ErrInvalidConfig)
	}
	return nil
}

// WithGain returns a copy of c with the manual gain set.
func (c Config) WithGain(g dab.Gain) Config {
	c.Gain = &g
	return c
}

// WithFrequency returns a copy of c tuned to f.
func (c Config) WithFrequency(f dab.Frequency) Config {
	c.Frequency = &f
	return c
}
