package device

import (
	"fmt"
	"strings"
)

// Format is the on-the-wire layout of interleaved complex I/Q samples.
type Format int

const (
	FormatUnknown Format = iota
	// FormatCU8 is unsigned 8-bit I/Q centered on 128, as produced by RTL-SDR sticks.
	FormatCU8
	// FormatCS8 is signed 8-bit I/Q, as produced by the HackRF.
	FormatCS8
	// FormatCS16 is signed 16-bit little-endian I/Q.
	FormatCS16
	// FormatCF32 is 32-bit little-endian float I/Q.
	FormatCF32
)

var formatNames = map[Format]string{
	FormatCU8:  "cu8",
	FormatCS8:  "cs8",
	FormatCS16: "cs16",
	FormatCF32: "cf32",
}

// Size returns the number of bytes of one complex sample.
func (f Format) Size() int {
	switch f {
	case FormatCU8, FormatCS8:
		return 2
	case FormatCS16:
		return 4
	case FormatCF32:
		return 8
	default:
		return 0
	}
}

func (f Format) Valid() bool {
	return f.Size() > 0
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: unknown sample format %q", ErrInvalidConfig, s)
}

func (f Format) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}

func (f *Format) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
