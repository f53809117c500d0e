package device

import (
	"context"
	"sync"
	"time"

	"github.com/norasector/dabdevice/pkg/dab"
)

// fakeBackend replays scripted frames and errors.
type fakeBackend struct {
	frames chan *Frame
	errs   chan error

	openErr  error
	startErr error

	// gains replaces testGains as the table read from the device.
	gains   []dab.Gain
	tuneErr error
	// tuneEntered and tuneGate, when set, hold Tune inside the backend
	// until the test lets it go.
	tuneEntered chan struct{}
	tuneGate    chan struct{}

	mu             sync.Mutex
	opens          int
	starts         int
	stops          int
	closes         int
	tunedTo        dab.Frequency
	tuneAfterClose bool
	agc            bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		frames: make(chan *Frame, 128),
		errs:   make(chan error, 1),
	}
}

func (b *fakeBackend) Open(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	return b.openErr
}

func (b *fakeBackend) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return b.startErr
}

func (b *fakeBackend) Read(timeout time.Duration) (*Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-b.frames:
		return f, nil
	case err := <-b.errs:
		return nil, err
	case <-timer.C:
		return nil, ErrReadTimeout
	}
}

func (b *fakeBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops++
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeBackend) counts() (opens, starts, stops, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.starts, b.stops, b.closes
}

// tunableBackend adds tuning and gain control to fakeBackend.
type tunableBackend struct {
	*fakeBackend
}

func (b tunableBackend) Tune(f dab.Frequency) error {
	if b.tuneEntered != nil {
		b.tuneEntered <- struct{}{}
	}
	if b.tuneGate != nil {
		<-b.tuneGate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closes > 0 {
		b.tuneAfterClose = true
	}
	if b.tuneErr != nil {
		return b.tuneErr
	}
	b.tunedTo = f
	return nil
}

func (b tunableBackend) Gains() []dab.Gain {
	if b.gains != nil {
		return b.gains
	}
	return testGains
}

func (b tunableBackend) SetGain(g dab.Gain) (dab.Gain, error) {
	closest, _ := dab.ClosestGain(b.Gains(), g)
	return closest, nil
}

func (b tunableBackend) SetAutomaticGain(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agc = on
	return nil
}

var testGains = []dab.Gain{0, 10, 20, 30, 40}

// fakeDriver offers fixed descriptors and records every backend it creates.
type fakeDriver struct {
	name    string
	descs   []Descriptor
	enumErr error
	tunable bool

	mu       sync.Mutex
	backends []*fakeBackend
	prepare  func(b *fakeBackend)
}

func (d *fakeDriver) Name() string {
	return d.name
}

func (d *fakeDriver) Enumerate(ctx context.Context) ([]Descriptor, error) {
	if d.enumErr != nil {
		return nil, d.enumErr
	}
	return d.descs, nil
}

func (d *fakeDriver) NewBackend(desc Descriptor) (Backend, error) {
	b := newFakeBackend()
	if d.prepare != nil {
		d.prepare(b)
	}
	d.mu.Lock()
	d.backends = append(d.backends, b)
	d.mu.Unlock()
	if d.tunable {
		return tunableBackend{b}, nil
	}
	return b, nil
}

func (d *fakeDriver) created() []*fakeBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeBackend(nil), d.backends...)
}

func testDescriptor(id string) Descriptor {
	return Descriptor{
		ID:      id,
		Name:    "test device",
		Driver:  "fake",
		Formats: []Format{FormatCU8, FormatCS16},
		Rates:   []RateRange{Rate(2048000), {Min: 900001, Max: 1200000}},
		Capabilities: Capabilities{
			Tuning:         true,
			FrequencyRange: dab.FrequencyRange{Min: dab.MHz(24), Max: dab.MHz(1766)},
			GainControl:    true,
			Gains:          testGains,
			AutomaticGain:  true,
		},
	}
}

func testFrame(offset uint64) *Frame {
	return &Frame{
		Offset:     offset,
		Timestamp:  time.Now(),
		Format:     FormatCU8,
		SampleRate: 2048000,
		Data:       []byte{128, 128, 255, 0},
	}
}

func testConfig() Config {
	return Config{Format: FormatCU8, SampleRate: 2048000}
}
