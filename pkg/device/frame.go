package device

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/norasector/turbine-common/types"

	"github.com/norasector/dabdevice/pkg/dab"
)

// Frame is a timestamped block of interleaved I/Q samples in one format.
type Frame struct {
	// Sequence is assigned by the acquisition loop, starting at 1 per handle.
	Sequence uint64
	// Offset is the index of the first sample within the device stream.
	Offset     uint64
	Timestamp  time.Time
	Format     Format
	SampleRate int
	Frequency  dab.Frequency
	Data       []byte
}

// Samples returns the number of complete complex samples in the frame.
func (f *Frame) Samples() int {
	size := f.Format.Size()
	if size == 0 {
		return 0
	}
	return len(f.Data) / size
}

// Duration is the time span the frame covers at its sample rate.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Complex64 converts the raw samples to complex values normalized to [-1, 1).
func (f *Frame) Complex64() []complex64 {
	n := f.Samples()
	data := f.Data[:n*f.Format.Size()]

	switch f.Format {
	case FormatCS8:
		seg := types.SegmentCS8Raw{
			SampleRate: f.SampleRate,
			Data:       data,
			Frequency:  int(f.Frequency),
		}
		// The segment puts the first byte of each pair in the imaginary part
		// and leaves the values unscaled.
		raw := seg.ToComplex64().Data
		out := make([]complex64, len(raw))
		for i, c := range raw {
			out[i] = complex(imag(c)/128, real(c)/128)
		}
		return out
	case FormatCU8:
		out := make([]complex64, n)
		for i := range out {
			out[i] = complex((float32(data[2*i])-128)/128, (float32(data[2*i+1])-128)/128)
		}
		return out
	case FormatCS16:
		out := make([]complex64, n)
		for i := range out {
			re := int16(binary.LittleEndian.Uint16(data[4*i:]))
			im := int16(binary.LittleEndian.Uint16(data[4*i+2:]))
			out[i] = complex(float32(re)/32768, float32(im)/32768)
		}
		return out
	case FormatCF32:
		out := make([]complex64, n)
		for i := range out {
			re := math.Float32frombits(binary.LittleEndian.Uint32(data[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(data[8*i+4:]))
			out[i] = complex(re, im)
		}
		return out
	default:
		return nil
	}
}
