package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no driver knows the requested device ID.
	ErrNotFound = errors.New("device not found")
	// ErrUnsupportedFormat is returned when the requested format is not offered by the device.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	// ErrUnsupportedRate is returned when the requested rate is not offered by the device.
	ErrUnsupportedRate = errors.New("unsupported sample rate")
	// ErrInvalidConfig is returned for malformed or out-of-range configuration fields.
	ErrInvalidConfig = errors.New("invalid device configuration")
	// ErrDeviceBusy is returned when an exclusive device is already held by another handle.
	ErrDeviceBusy = errors.New("device busy")
	// ErrOpen wraps backend setup failures.
	ErrOpen = errors.New("device open failed")
	// ErrStart wraps failures to begin sample production.
	ErrStart = errors.New("device start failed")
	// ErrReadTimeout signals that no samples arrived in time. It is not a fault.
	ErrReadTimeout = errors.New("read timeout")
	// ErrDeviceFault is the terminal loss of the underlying device or file.
	ErrDeviceFault = errors.New("device fault")
	// ErrOverrun is reported when the sample buffer stayed full past the overrun timeout.
	ErrOverrun = errors.New("sample buffer overrun")
	// ErrInvalidState is returned for lifecycle calls that are illegal in the current state.
	ErrInvalidState = errors.New("invalid device state")
	// ErrNotSupported is returned when the backend lacks a requested control.
	ErrNotSupported = errors.New("operation not supported by device")
	// ErrClosed is returned by reads once a handle or buffer is closed and drained.
	ErrClosed = errors.New("device closed")
	// ErrEmpty is returned by non-blocking reads on an empty buffer.
	ErrEmpty = errors.New("sample buffer empty")
)

var taxonomy = []error{
	ErrNotFound, ErrUnsupportedFormat, ErrUnsupportedRate, ErrInvalidConfig, ErrDeviceBusy,
	ErrOpen, ErrStart, ErrReadTimeout, ErrDeviceFault, ErrOverrun, ErrInvalidState,
	ErrNotSupported, ErrClosed, ErrEmpty,
}

// Error carries the failing operation and device along with the taxonomy
// kind and the underlying cause. Both match with errors.Is.
type Error struct {
	Op     string
	Device string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Device != "" {
		msg += " " + e.Device
	}
	switch {
	case e.Err == nil:
		return msg + ": " + e.Kind.Error()
	case errors.Is(e.Err, e.Kind):
		return msg + ": " + e.Err.Error()
	default:
		return msg + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns the taxonomy error err belongs to, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// translate maps a backend error into the taxonomy. Errors that already
// carry a kind keep it, everything else becomes fallback.
func translate(op, device string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Device == device && de.Op == op {
		return err
	}
	kind := Kind(err)
	if kind == nil {
		kind = fallback
	}
	return &Error{Op: op, Device: device, Kind: kind, Err: err}
}

// Fault wraps cause as a device fault. Backends use it for I/O failures.
func Fault(cause error) error {
	return fmt.Errorf("%w: %w", ErrDeviceFault, cause)
}
