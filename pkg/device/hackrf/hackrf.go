// Package hackrf drives a HackRF One through libhackrf.
//
// libhackrf does not report a device that disappears while streaming; the
// transfer callback simply stops. Read therefore treats a stream that
// stays silent for longer than the stall timeout as a device fault.
package hackrf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samuel/go-hackrf/hackrf"

	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/device"
)

const (
	DriverName = "hackrf"
	deviceID   = DriverName + ":0"

	defaultLNAGain      = 16
	defaultStallTimeout = 2 * time.Second
)

var (
	sampleRates    = []device.RateRange{{Min: 2e6, Max: 20e6}}
	frequencyRange = dab.FrequencyRange{Min: dab.MHz(1), Max: dab.Frequency(4e9)}
	// LNA gain is settable in 8 dB steps.
	lnaGains = []dab.Gain{0, 8, 16, 24, 32, 40}
)

type Option func(d *Driver)

// WithStallTimeout sets how long a running device may deliver nothing
// before reads fail with a device fault. Zero disables the check.
func WithStallTimeout(d time.Duration) Option {
	return func(drv *Driver) {
		drv.stallTimeout = d
	}
}

// WithAmp switches the front-end RF amplifier. It is on by default.
func WithAmp(on bool) Option {
	return func(d *Driver) {
		d.amp = on
	}
}

// Driver owns the libhackrf library context. It offers the first HackRF
// found on the bus.
type Driver struct {
	amp          bool
	stallTimeout time.Duration

	mu     sync.Mutex
	active *HackRFDevice
}

func NewDriver(opts ...Option) (*Driver, error) {
	if err := hackrf.Init(); err != nil {
		return nil, fmt.Errorf("initializing libhackrf: %w", err)
	}
	d := &Driver{amp: true, stallTimeout: defaultStallTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	held := d.active != nil && d.active.isOpen()
	d.mu.Unlock()

	// An open device cannot be probed again.
	if !held {
		dev, err := hackrf.Open()
		if err != nil {
			return nil, nil
		}
		if err := dev.Close(); err != nil {
			return nil, fmt.Errorf("closing probed hackrf: %w", err)
		}
	}

	return []device.Descriptor{{
		ID:      deviceID,
		Name:    "HackRF One",
		Driver:  DriverName,
		Formats: []device.Format{device.FormatCS8},
		Rates:   sampleRates,
		Capabilities: device.Capabilities{
			Tuning:         true,
			FrequencyRange: frequencyRange,
			GainControl:    true,
			Gains:          lnaGains,
		},
	}}, nil
}

func (d *Driver) NewBackend(desc device.Descriptor) (device.Backend, error) {
	if desc.ID != deviceID {
		return nil, fmt.Errorf("%w: %s", device.ErrNotFound, desc.ID)
	}
	dev := &HackRFDevice{amp: d.amp, stall: device.NewStallTimer(d.stallTimeout)}
	d.mu.Lock()
	d.active = dev
	d.mu.Unlock()
	return dev, nil
}

func (d *Driver) Close() error {
	return hackrf.Exit()
}

// HackRFDevice streams signed 8-bit I/Q. libhackrf delivers buffers on its
// transfer thread; the callback copies them into a channel drained by Read.
type HackRFDevice struct {
	amp   bool
	stall *device.StallTimer

	mu         sync.Mutex
	device     *hackrf.Device
	centerFreq dab.Frequency
	sampleRate int
	samples    chan []byte
	stopped    chan struct{}
	running    bool
	offset     uint64
}

func (h *HackRFDevice) isOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device != nil
}

func (h *HackRFDevice) Open(cfg device.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device != nil {
		return fmt.Errorf("%w: hackrf already open", device.ErrOpen)
	}

	dev, err := hackrf.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}
	h.device = dev
	h.sampleRate = cfg.SampleRate

	if err := h.device.SetSampleRateManual(cfg.SampleRate*2, 2); err != nil {
		return fmt.Errorf("%w: setting sample rate: %w", device.ErrOpen, err)
	}
	if err := h.device.SetBasebandFilterBandwidth(cfg.SampleRate); err != nil {
		return fmt.Errorf("%w: setting baseband filter: %w", device.ErrOpen, err)
	}

	gain := dab.Gain(defaultLNAGain)
	if cfg.Gain != nil {
		gain = *cfg.Gain
	}
	if _, err := h.setGainLocked(gain); err != nil {
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}
	if err := h.device.SetAmpEnable(h.amp); err != nil {
		return fmt.Errorf("%w: setting amp: %w", device.ErrOpen, err)
	}
	if cfg.Frequency != nil {
		if err := h.tuneLocked(*cfg.Frequency); err != nil {
			return fmt.Errorf("%w: %w", device.ErrOpen, err)
		}
	}
	return nil
}

func (h *HackRFDevice) Tune(f dab.Frequency) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tuneLocked(f)
}

func (h *HackRFDevice) tuneLocked(f dab.Frequency) error {
	if h.device == nil {
		return device.ErrClosed
	}
	if err := h.device.SetFreq(uint64(f)); err != nil {
		return err
	}
	h.centerFreq = f
	return nil
}

func (h *HackRFDevice) Gains() []dab.Gain {
	return lnaGains
}

func (h *HackRFDevice) SetGain(g dab.Gain) (dab.Gain, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setGainLocked(g)
}

func (h *HackRFDevice) setGainLocked(g dab.Gain) (dab.Gain, error) {
	if h.device == nil {
		return 0, device.ErrClosed
	}
	closest, _ := dab.ClosestGain(lnaGains, g)
	if err := h.device.SetLNAGain(int(closest)); err != nil {
		return 0, err
	}
	return closest, nil
}

func (h *HackRFDevice) SetAutomaticGain(on bool) error {
	return device.ErrNotSupported
}

func (h *HackRFDevice) callback(buf []byte) error {
	data := make([]byte, len(buf))
	copy(data, buf)
	select {
	case <-h.stopped:
		return errors.New("hackrf stopped")
	case h.samples <- data:
	}
	return nil
}

func (h *HackRFDevice) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device == nil {
		return fmt.Errorf("%w: hackrf not open", device.ErrStart)
	}
	if h.running {
		return nil
	}
	h.samples = make(chan []byte, 4)
	h.stopped = make(chan struct{})
	if err := h.device.StartRX(h.callback); err != nil {
		return fmt.Errorf("%w: %w", device.ErrStart, err)
	}
	h.running = true
	h.stall.Reset(time.Now())
	return nil
}

func (h *HackRFDevice) Read(timeout time.Duration) (*device.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-h.samples:
		h.mu.Lock()
		defer h.mu.Unlock()
		frame := &device.Frame{
			Offset:     h.offset,
			Timestamp:  time.Now(),
			Format:     device.FormatCS8,
			SampleRate: h.sampleRate,
			Frequency:  h.centerFreq,
			Data:       data,
		}
		h.offset += uint64(frame.Samples())
		h.stall.Reset(frame.Timestamp)
		return frame, nil
	case <-h.stopped:
		return nil, device.Fault(errors.New("hackrf stopped"))
	case <-timer.C:
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := h.stall.Check(time.Now()); err != nil {
			return nil, err
		}
		return nil, device.ErrReadTimeout
	}
}

func (h *HackRFDevice) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false
	close(h.stopped)
	return h.device.StopRX()
}

func (h *HackRFDevice) Close() error {
	if err := h.Stop(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.device == nil {
		return nil
	}
	err := h.device.Close()
	h.device = nil
	return err
}
