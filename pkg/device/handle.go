package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/util"
)

// Handle is one open session on a device. It owns the backend and the
// sample buffer exclusively and runs the acquisition loop while Running.
type Handle struct {
	desc    Descriptor
	cfg     Config
	backend Backend
	buf     *SampleBuffer
	release func()

	logger    zerolog.Logger
	writeAPI  api.WriteAPI
	listeners []func(from, to State)

	capacity       int
	readTimeout    time.Duration
	overrunTimeout time.Duration
	metricsEvery   int

	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	// ctl is held by control calls and by teardown, so the backend is never
	// tuned after it was released.
	ctl sync.Mutex

	teardown sync.Once
	stats    stats
}

func newHandle(desc Descriptor, cfg Config, backend Backend, release func(), opts ...HandleOption) (*Handle, error) {
	h := &Handle{
		desc:         desc,
		cfg:          cfg,
		backend:      backend,
		release:      release,
		logger:       log.Logger,
		writeAPI:     &util.NopWriteAPI{}, // overwritten with option
		capacity:     defaultBufferCapacity,
		readTimeout:  defaultReadTimeout,
		metricsEvery: defaultMetricsInterval,
		state:        StateClosed,
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	h.logger = h.logger.With().Str("device", desc.ID).Logger()

	buf, err := NewSampleBuffer(h.capacity)
	if err != nil {
		return nil, err
	}
	h.buf = buf

	return h, nil
}

// open runs the backend's open and moves the handle to Opened.
func (h *Handle) open() error {
	if err := h.backend.Open(h.cfg); err != nil {
		return translate("open", h.desc.ID, err, ErrOpen)
	}
	h.mu.Lock()
	from := h.setStateLocked(StateOpened)
	h.mu.Unlock()
	h.notify(from, StateOpened)

	h.logger.Info().
		Str("format", h.cfg.Format.String()).
		Int("sample_rate", h.cfg.SampleRate).
		Msg("device opened")
	return nil
}

func (h *Handle) Descriptor() Descriptor {
	return h.desc.Clone()
}

func (h *Handle) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the error that faulted the handle, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the acquisition loop has exited. It is nil before Start.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Buffered returns the number of frames waiting for the consumer.
func (h *Handle) Buffered() int {
	return h.buf.Len()
}

// Start begins sample production and the acquisition loop. Cancelling ctx
// stops the handle the same way Stop does.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateOpened {
		state := h.state
		h.mu.Unlock()
		return &Error{Op: "start", Device: h.desc.ID, Kind: ErrInvalidState, Err: fmt.Errorf("handle is %s", state)}
	}

	if err := h.backend.Start(); err != nil {
		err = translate("start", h.desc.ID, err, ErrStart)
		from := h.faultLocked(err)
		h.mu.Unlock()
		h.notify(from, StateFaulted)
		h.logger.Error().Err(err).Msg("failed to start device")
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	from := h.setStateLocked(StateRunning)
	done := h.done
	h.mu.Unlock()
	h.notify(from, StateRunning)

	go h.acquire(loopCtx, done)

	h.logger.Info().Dur("read_timeout", h.readTimeout).Int("buffer_frames", h.capacity).Msg("acquisition started")
	return nil
}

// Stop ends acquisition, stops and releases the backend and leaves the
// handle Closed. Frames already buffered can still be read. Stopping an
// Opened handle closes it; stopping a Closed handle is a no-op.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case StateClosed:
		h.mu.Unlock()
		return nil
	case StateOpened:
		h.mu.Unlock()
		return h.shutdown()
	case StateFaulted:
		cause := h.err
		h.mu.Unlock()
		return &Error{Op: "stop", Device: h.desc.ID, Kind: ErrInvalidState, Err: cause}
	case StateRunning:
		h.cancel()
		from := h.setStateLocked(StateStopping)
		h.mu.Unlock()
		h.notify(from, StateStopping)
	default:
		h.mu.Unlock()
	}

	if err := h.wait(ctx); err != nil {
		return err
	}
	return h.shutdown()
}

// Close releases the backend, the buffer and the device reservation. It is
// legal from any state and only the first call does any work.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == StateRunning {
		h.cancel()
		from := h.setStateLocked(StateStopping)
		h.mu.Unlock()
		h.notify(from, StateStopping)
	} else {
		h.mu.Unlock()
	}

	// The loop observes cancellation within one read timeout.
	_ = h.wait(context.Background())
	err := h.shutdown()
	if dropped := h.buf.Reset(); dropped > 0 {
		h.logger.Debug().Int("frames", dropped).Msg("discarded unread frames")
	}
	return err
}

// Read returns the next frame in production order. It waits up to timeout
// and returns ErrReadTimeout if nothing arrived, or ErrEmpty right away when
// timeout <= 0. Once the handle faulted or closed, the frames buffered before
// that are returned first, then the fault or ErrClosed.
func (h *Handle) Read(ctx context.Context, timeout time.Duration) (*Frame, error) {
	return h.buf.Pop(ctx, timeout)
}

// Tune retunes the device. Allowed while Opened or Running.
func (h *Handle) Tune(f dab.Frequency) error {
	h.ctl.Lock()
	defer h.ctl.Unlock()
	if err := h.checkControl("tune"); err != nil {
		return err
	}
	caps := h.desc.Capabilities
	tuner, ok := h.backend.(Tuner)
	if !caps.Tuning || !ok {
		return &Error{Op: "tune", Device: h.desc.ID, Kind: ErrNotSupported}
	}
	if !caps.FrequencyRange.Contains(f) {
		return &Error{Op: "tune", Device: h.desc.ID, Kind: ErrInvalidConfig,
			Err: fmt.Errorf("frequency %s outside %s", f, caps.FrequencyRange)}
	}
	if err := tuner.Tune(f); err != nil {
		return h.controlFailed("tune", err)
	}

	h.mu.Lock()
	h.cfg = h.cfg.WithFrequency(f)
	h.mu.Unlock()
	h.logger.Debug().Str("frequency", f.String()).Msg("tuned")
	return nil
}

// Gains returns the gains the open device supports. Backends that read
// their gain table from the hardware report it here; otherwise, and once
// the handle is closed, the descriptor's table is returned.
func (h *Handle) Gains() []dab.Gain {
	h.ctl.Lock()
	defer h.ctl.Unlock()
	return h.gainsLocked()
}

func (h *Handle) gainsLocked() []dab.Gain {
	state := h.State()
	if ctl, ok := h.backend.(GainController); ok && (state == StateOpened || state == StateRunning) {
		if gains := ctl.Gains(); len(gains) > 0 {
			return append([]dab.Gain(nil), gains...)
		}
	}
	return append([]dab.Gain(nil), h.desc.Capabilities.Gains...)
}

// SetGain applies the supported gain closest to g and returns it. g must
// lie within the range reported by Gains.
func (h *Handle) SetGain(g dab.Gain) (dab.Gain, error) {
	h.ctl.Lock()
	defer h.ctl.Unlock()
	if err := h.checkControl("gain"); err != nil {
		return 0, err
	}
	ctl, ok := h.backend.(GainController)
	if !h.desc.Capabilities.GainControl || !ok {
		return 0, &Error{Op: "gain", Device: h.desc.ID, Kind: ErrNotSupported}
	}
	if err := checkGainIn(h.gainsLocked(), g); err != nil {
		return 0, &Error{Op: "gain", Device: h.desc.ID, Kind: ErrInvalidConfig, Err: err}
	}
	applied, err := ctl.SetGain(g)
	if err != nil {
		return 0, h.controlFailed("gain", err)
	}

	h.mu.Lock()
	h.cfg = h.cfg.WithGain(applied)
	h.cfg.AutomaticGain = false
	h.mu.Unlock()
	h.logger.Debug().Str("requested", g.String()).Str("applied", applied.String()).Msg("gain set")
	return applied, nil
}

func (h *Handle) SetAutomaticGain(on bool) error {
	h.ctl.Lock()
	defer h.ctl.Unlock()
	if err := h.checkControl("agc"); err != nil {
		return err
	}
	ctl, ok := h.backend.(GainController)
	if !h.desc.Capabilities.AutomaticGain || !ok {
		return &Error{Op: "agc", Device: h.desc.ID, Kind: ErrNotSupported}
	}
	if err := ctl.SetAutomaticGain(on); err != nil {
		return h.controlFailed("agc", err)
	}

	h.mu.Lock()
	h.cfg.AutomaticGain = on
	if on {
		h.cfg.Gain = nil
	}
	h.mu.Unlock()
	return nil
}

func (h *Handle) checkControl(op string) error {
	state := h.State()
	if state != StateOpened && state != StateRunning {
		return &Error{Op: op, Device: h.desc.ID, Kind: ErrInvalidState, Err: fmt.Errorf("handle is %s", state)}
	}
	return nil
}

// controlFailed translates a control error; device faults fault the handle.
func (h *Handle) controlFailed(op string, err error) error {
	err = translate(op, h.desc.ID, err, ErrDeviceFault)
	if errors.Is(err, ErrDeviceFault) {
		h.fault(err)
	}
	return err
}

func (h *Handle) wait(ctx context.Context) error {
	done := h.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fault moves the handle to Faulted. Only the first fault is recorded and
// a handle that is already Closed stays Closed.
func (h *Handle) fault(err error) bool {
	h.mu.Lock()
	if h.state == StateClosed || h.state == StateFaulted {
		h.mu.Unlock()
		return false
	}
	from := h.faultLocked(err)
	h.mu.Unlock()
	h.notify(from, StateFaulted)

	h.logger.Error().Err(err).Str("from", from.String()).Msg("device faulted")
	return true
}

func (h *Handle) faultLocked(err error) State {
	h.err = err
	if h.cancel != nil {
		h.cancel()
	}
	h.buf.CloseWithError(err)
	return h.setStateLocked(StateFaulted)
}

// shutdown stops and closes the backend and gives the reservation back.
// It runs once; later calls return nil.
func (h *Handle) shutdown() error {
	var err error
	h.teardown.Do(func() {
		h.mu.Lock()
		if h.cancel != nil {
			h.cancel()
		}
		h.mu.Unlock()

		h.ctl.Lock()
		var errs []error
		if stopErr := h.backend.Stop(); stopErr != nil {
			errs = append(errs, stopErr)
		}
		if closeErr := h.backend.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
		if h.release != nil {
			h.release()
		}
		h.buf.CloseWithError(ErrClosed)

		h.mu.Lock()
		from := h.setStateLocked(StateClosed)
		h.mu.Unlock()
		h.ctl.Unlock()
		h.notify(from, StateClosed)

		if len(errs) > 0 {
			err = &Error{Op: "close", Device: h.desc.ID, Kind: ErrDeviceFault, Err: errors.Join(errs...)}
			h.logger.Warn().Err(err).Msg("device did not close cleanly")
			return
		}
		h.logger.Info().Msg("device closed")
	})
	return err
}

func (h *Handle) setStateLocked(to State) State {
	from := h.state
	h.state = to
	return from
}

func (h *Handle) notify(from, to State) {
	if from == to {
		return
	}
	h.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state change")
	for _, fn := range h.listeners {
		fn(from, to)
	}
}
