package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("libusb: no device")
	err := &Error{Op: "open", Device: "rtlsdr:00000001", Kind: ErrOpen, Err: cause}

	assert.ErrorIs(t, err, ErrOpen)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrDeviceFault)
	assert.Equal(t, "open rtlsdr:00000001: device open failed: libusb: no device", err.Error())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"kind only",
			&Error{Op: "lookup", Device: "file:x.iq", Kind: ErrNotFound},
			"lookup file:x.iq: device not found",
		},
		{
			"cause already carries kind",
			&Error{Op: "read", Device: "hackrf:0", Kind: ErrDeviceFault, Err: Fault(errors.New("transfer cancelled"))},
			"read hackrf:0: device fault: transfer cancelled",
		},
		{
			"no device",
			&Error{Op: "open", Kind: ErrInvalidConfig},
			"open: invalid device configuration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKind(t *testing.T) {
	assert.Nil(t, Kind(nil))
	assert.Nil(t, Kind(errors.New("plain")))
	assert.Equal(t, ErrReadTimeout, Kind(fmt.Errorf("wrapped: %w", ErrReadTimeout)))
	assert.Equal(t, ErrDeviceFault, Kind(Fault(errors.New("eof"))))
	assert.Equal(t, ErrDeviceBusy, Kind(&Error{Op: "open", Kind: ErrDeviceBusy}))
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate("read", "fake:0", nil, ErrDeviceFault))

	plain := errors.New("boom")
	err := translate("start", "fake:0", plain, ErrStart)
	var derr *Error
	assert.ErrorAs(t, err, &derr)
	assert.Equal(t, ErrStart, derr.Kind)
	assert.ErrorIs(t, err, plain)

	// A backend that already classified its error keeps that kind.
	err = translate("open", "fake:0", fmt.Errorf("%w: rate rejected", ErrUnsupportedRate), ErrOpen)
	assert.ErrorIs(t, err, ErrUnsupportedRate)
	assert.NotErrorIs(t, err, ErrOpen)

	// Already translated for the same operation: returned as is.
	same := &Error{Op: "read", Device: "fake:0", Kind: ErrDeviceFault}
	assert.Same(t, same, translate("read", "fake:0", same, ErrOverrun))
}
