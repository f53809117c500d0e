package device

import (
	"context"
	"time"

	"github.com/norasector/dabdevice/pkg/dab"
)

// Backend is a driver instance bound to one device. The registry creates
// it and the owning Handle is its only caller.
//
// Read blocks for at most timeout and returns ErrReadTimeout when no data
// arrived. Loss of the device or its input is reported as ErrDeviceFault
// (see Fault); backends never retry on their own. Stop and Close must be
// idempotent and safe to call after a fault.
type Backend interface {
	Open(cfg Config) error
	Start() error
	Read(timeout time.Duration) (*Frame, error)
	Stop() error
	Close() error
}

// Driver is one hardware family or virtual source type.
type Driver interface {
	// Name is the driver prefix used in descriptor IDs.
	Name() string
	// Enumerate re-queries the devices currently available.
	Enumerate(ctx context.Context) ([]Descriptor, error)
	// NewBackend instantiates an unopened backend for desc.
	NewBackend(desc Descriptor) (Backend, error)
}

// Tuner is implemented by backends that can change center frequency.
type Tuner interface {
	Tune(f dab.Frequency) error
}

// GainController is implemented by backends with gain control. SetGain
// returns the gain actually applied. Gains reports the table read from the
// device once it is open, or nil to fall back to the descriptor.
type GainController interface {
	Gains() []dab.Gain
	SetGain(g dab.Gain) (dab.Gain, error)
	SetAutomaticGain(on bool) error
}
