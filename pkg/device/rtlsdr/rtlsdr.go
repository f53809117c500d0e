// Package rtlsdr drives RTL2832U based USB sticks through librtlsdr.
package rtlsdr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gsdr "github.com/jpoirier/gortlsdr"

	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/device"
)

const DriverName = "rtlsdr"

var (
	// Sample rates librtlsdr accepts.
	sampleRates = []device.RateRange{
		{Min: 225001, Max: 300000},
		{Min: 900001, Max: 3200000},
	}

	// R820T tuner range.
	frequencyRange = dab.FrequencyRange{Min: dab.MHz(24), Max: dab.MHz(1766)}

	// R820T gain table, the most common tuner. The real table is read from
	// the device on open.
	nominalGains = []dab.Gain{0, 0.9, 1.4, 2.7, 3.7, 7.7, 8.7, 12.5, 14.4, 15.7, 16.6, 19.7, 20.7,
		22.9, 25.4, 28.0, 29.7, 32.8, 33.8, 36.4, 37.2, 38.6, 40.2, 42.1, 43.4, 43.9, 44.5, 48.0, 49.6}
)

// Driver enumerates the RTL-SDR sticks attached over USB.
type Driver struct{}

func NewDriver() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	count := gsdr.GetDeviceCount()
	descs := make([]device.Descriptor, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, name := identify(i)
		descs = append(descs, device.Descriptor{
			ID:      DriverName + ":" + key,
			Name:    name,
			Driver:  DriverName,
			Formats: []device.Format{device.FormatCU8},
			Rates:   sampleRates,
			Capabilities: device.Capabilities{
				Tuning:         true,
				FrequencyRange: frequencyRange,
				GainControl:    true,
				Gains:          nominalGains,
				AutomaticGain:  true,
			},
		})
	}
	return descs, nil
}

func (d *Driver) NewBackend(desc device.Descriptor) (device.Backend, error) {
	for i := 0; i < gsdr.GetDeviceCount(); i++ {
		if key, _ := identify(i); DriverName+":"+key == desc.ID {
			return NewRTLSDRDevice(i), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", device.ErrNotFound, desc.ID)
}

// identify returns the stable key of the stick at idx, its USB serial
// when it has one and the index otherwise.
func identify(idx int) (key, name string) {
	key = "idx" + strconv.Itoa(idx)
	name = gsdr.GetDeviceName(idx)
	if _, product, serial, err := gsdr.GetDeviceUsbStrings(idx); err == nil {
		if serial != "" {
			key = serial
		}
		if product != "" {
			name = product
		}
	}
	return key, name
}

// RTLSDRDevice streams unsigned 8-bit I/Q from one stick. librtlsdr calls
// back from its own thread; the callback hands copies of each USB buffer to
// Read through a small channel.
type RTLSDRDevice struct {
	deviceIdx int
	device    *gsdr.Context
	gains     []dab.Gain

	centerFreq dab.Frequency
	sampleRate int

	mu      sync.Mutex
	samples chan []byte
	errs    chan error
	stopped chan struct{}
	running bool
	wg      sync.WaitGroup
	offset  uint64
}

func NewRTLSDRDevice(deviceIdx int) *RTLSDRDevice {
	return &RTLSDRDevice{deviceIdx: deviceIdx}
}

func (r *RTLSDRDevice) Open(cfg device.Config) error {
	if r.device != nil {
		return fmt.Errorf("%w: rtlsdr %d already open", device.ErrOpen, r.deviceIdx)
	}

	dev, err := gsdr.Open(r.deviceIdx)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}
	r.device = dev
	r.sampleRate = cfg.SampleRate

	if err := r.device.SetSampleRate(cfg.SampleRate); err != nil {
		return fmt.Errorf("%w: setting sample rate: %w", device.ErrOpen, err)
	}

	tenths, err := r.device.GetTunerGains()
	if err != nil {
		return fmt.Errorf("%w: reading tuner gains: %w", device.ErrOpen, err)
	}
	gains := make([]dab.Gain, 0, len(tenths))
	for _, g := range tenths {
		gains = append(gains, dab.GainFromTenthsDB(g))
	}
	r.mu.Lock()
	r.gains = gains
	r.mu.Unlock()

	switch {
	case cfg.AutomaticGain:
		if err := r.SetAutomaticGain(true); err != nil {
			return fmt.Errorf("%w: %w", device.ErrOpen, err)
		}
	case cfg.Gain != nil:
		if _, err := r.SetGain(*cfg.Gain); err != nil {
			return fmt.Errorf("%w: %w", device.ErrOpen, err)
		}
	case len(r.gains) > 0:
		// Start from the middle of the gain table.
		if _, err := r.SetGain(r.gains[len(r.gains)/2]); err != nil {
			return fmt.Errorf("%w: %w", device.ErrOpen, err)
		}
	}

	if cfg.Frequency != nil {
		if err := r.Tune(*cfg.Frequency); err != nil {
			return fmt.Errorf("%w: %w", device.ErrOpen, err)
		}
	}

	if err := r.device.ResetBuffer(); err != nil {
		return fmt.Errorf("%w: resetting buffer: %w", device.ErrOpen, err)
	}
	return nil
}

func (r *RTLSDRDevice) Tune(f dab.Frequency) error {
	if r.device == nil {
		return device.ErrClosed
	}
	if err := r.device.SetCenterFreq(int(f.Hz())); err != nil {
		return err
	}
	if got := r.device.GetCenterFreq(); got != int(f.Hz()) {
		return fmt.Errorf("tuned to %d Hz instead of %s", got, f)
	}
	r.mu.Lock()
	r.centerFreq = f
	r.mu.Unlock()
	return nil
}

// Gains returns the tuner's own gain table, read when the device was opened.
func (r *RTLSDRDevice) Gains() []dab.Gain {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dab.Gain(nil), r.gains...)
}

func (r *RTLSDRDevice) SetGain(g dab.Gain) (dab.Gain, error) {
	if r.device == nil {
		return 0, device.ErrClosed
	}
	closest, ok := dab.ClosestGain(r.gains, g)
	if !ok {
		return 0, errors.New("tuner reports no gains")
	}
	if err := r.device.SetTunerGainMode(true); err != nil {
		return 0, err
	}
	if err := r.device.SetAgcMode(false); err != nil {
		return 0, err
	}
	if err := r.device.SetTunerGain(closest.TenthsDB()); err != nil {
		return 0, err
	}
	return closest, nil
}

func (r *RTLSDRDevice) SetAutomaticGain(on bool) error {
	if r.device == nil {
		return device.ErrClosed
	}
	if err := r.device.SetTunerGainMode(!on); err != nil {
		return err
	}
	return r.device.SetAgcMode(on)
}

func (r *RTLSDRDevice) callback(buf []byte) {
	data := make([]byte, len(buf))
	copy(data, buf)
	select {
	case <-r.stopped:
	case r.samples <- data:
	}
}

func (r *RTLSDRDevice) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device == nil {
		return fmt.Errorf("%w: rtlsdr %d not open", device.ErrStart, r.deviceIdx)
	}
	if r.running {
		return nil
	}
	r.samples = make(chan []byte, 4)
	r.errs = make(chan error, 1)
	r.stopped = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// Blocks until CancelAsync.
		if err := r.device.ReadAsync(r.callback, nil, 0, 0); err != nil {
			r.errs <- err
		}
	}()
	return nil
}

func (r *RTLSDRDevice) Read(timeout time.Duration) (*device.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-r.samples:
		r.mu.Lock()
		frame := &device.Frame{
			Offset:     r.offset,
			Timestamp:  time.Now(),
			Format:     device.FormatCU8,
			SampleRate: r.sampleRate,
			Frequency:  r.centerFreq,
			Data:       data,
		}
		r.offset += uint64(frame.Samples())
		r.mu.Unlock()
		return frame, nil
	case err := <-r.errs:
		return nil, device.Fault(err)
	case <-r.stopped:
		return nil, device.Fault(errors.New("rtlsdr stopped"))
	case <-timer.C:
		return nil, device.ErrReadTimeout
	}
}

func (r *RTLSDRDevice) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopped)
	err := r.device.CancelAsync()
	r.wg.Wait()
	return err
}

func (r *RTLSDRDevice) Close() error {
	if err := r.Stop(); err != nil {
		return err
	}
	if r.device == nil {
		return nil
	}
	err := r.device.Close()
	r.device = nil
	return err
}
