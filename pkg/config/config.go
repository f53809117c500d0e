package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/device"
	"github.com/norasector/dabdevice/pkg/device/file"
)

type Config struct {
	// Device is the descriptor ID to open, e.g. "rtlsdr:00000001" or "file:/tmp/capture.raw".
	Device string        `yaml:"device"`
	Config device.Config `yaml:"config"`
	// Channel is a Band III channel name such as "12C". It sets the
	// frequency when Config.Frequency is empty.
	Channel string `yaml:"channel"`

	Drivers struct {
		RTLSDR bool `yaml:"rtlsdr"`
		HackRF struct {
			Enabled bool `yaml:"enabled"`
			Amp     bool `yaml:"amp"`
		} `yaml:"hackrf"`
		Files struct {
			Sources      []file.Source `yaml:"sources"`
			FrameSamples int           `yaml:"frame_samples"`
			Paced        bool          `yaml:"paced"`
		} `yaml:"files"`
	} `yaml:"drivers"`

	Acquisition struct {
		BufferFrames   int           `yaml:"buffer_frames"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		OverrunTimeout time.Duration `yaml:"overrun_timeout"`
	} `yaml:"acquisition"`

	Dump struct {
		Output  string `yaml:"output"`
		Samples int    `yaml:"samples"`
	} `yaml:"dump"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Load reads a YAML config file. Unknown keys are an error so typos in
// device settings surface before a device is opened.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(contents)
}

func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(contents, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrInvalidConfig, err)
	}
	if err := cfg.resolveChannel(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveChannel() error {
	if c.Channel == "" {
		return nil
	}
	ch, ok := dab.ChannelByName(c.Channel)
	if !ok {
		return fmt.Errorf("%w: unknown channel %q", device.ErrInvalidConfig, c.Channel)
	}
	if c.Config.Frequency == nil {
		c.Config = c.Config.WithFrequency(ch.Frequency)
	}
	return nil
}

// HandleOptions converts the acquisition section into handle options.
func (c *Config) HandleOptions() []device.HandleOption {
	var opts []device.HandleOption
	if c.Acquisition.BufferFrames > 0 {
		opts = append(opts, device.WithBufferCapacity(c.Acquisition.BufferFrames))
	}
	if c.Acquisition.ReadTimeout > 0 {
		opts = append(opts, device.WithReadTimeout(c.Acquisition.ReadTimeout))
	}
	if c.Acquisition.OverrunTimeout > 0 {
		opts = append(opts, device.WithOverrunTimeout(c.Acquisition.OverrunTimeout))
	}
	return opts
}

// FileDriverOptions converts the files section into file driver options.
func (c *Config) FileDriverOptions() []file.Option {
	var opts []file.Option
	if c.Drivers.Files.FrameSamples > 0 {
		opts = append(opts, file.WithFrameSamples(c.Drivers.Files.FrameSamples))
	}
	if c.Drivers.Files.Paced {
		opts = append(opts, file.WithPacing())
	}
	return opts
}
