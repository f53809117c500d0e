// Package file replays raw I/Q recordings, such as the dumps written by
// rtl_sdr or dabdump, as a sampling device.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/device"
)

const (
	DriverName = "file"

	defaultFrameSamples = 16384
)

// Source is one recording offered by the driver.
type Source struct {
	Path       string        `yaml:"path"`
	Name       string        `yaml:"name"`
	Format     device.Format `yaml:"format"`
	SampleRate int           `yaml:"rate"`
	Frequency  dab.Frequency `yaml:"frequency"`
	// Shared recordings may be replayed by several handles at once.
	Shared bool `yaml:"shared"`
}

func (s Source) id() string {
	return DriverName + ":" + s.Path
}

func (s Source) withDefaults() Source {
	if s.Format == device.FormatUnknown {
		s.Format = device.FormatCU8
	}
	if s.SampleRate == 0 {
		s.SampleRate = dab.DefaultSampleRate
	}
	if s.Name == "" {
		s.Name = filepath.Base(s.Path)
	}
	return s
}

type Option func(d *Driver)

// WithFrameSamples sets the number of samples per frame.
func WithFrameSamples(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.frameSamples = n
		}
	}
}

// WithPacing replays at the recording's sample rate instead of as fast as
// the consumer reads.
func WithPacing() Option {
	return func(d *Driver) {
		d.paced = true
	}
}

// Driver offers a fixed list of recordings. Each enumeration checks that
// the files still exist.
type Driver struct {
	sources      []Source
	frameSamples int
	paced        bool
}

func NewDriver(sources []Source, opts ...Option) *Driver {
	d := &Driver{frameSamples: defaultFrameSamples}
	for _, src := range sources {
		d.sources = append(d.sources, src.withDefaults())
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	var descs []device.Descriptor
	for _, src := range d.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(src.Path)
		if err != nil || info.IsDir() {
			continue
		}
		descs = append(descs, device.Descriptor{
			ID:      src.id(),
			Name:    src.Name,
			Driver:  DriverName,
			Formats: []device.Format{src.Format},
			Rates:   []device.RateRange{device.Rate(src.SampleRate)},
			Capabilities: device.Capabilities{
				Loop:   true,
				Shared: src.Shared,
			},
		})
	}
	return descs, nil
}

func (d *Driver) NewBackend(desc device.Descriptor) (device.Backend, error) {
	for _, src := range d.sources {
		if src.id() == desc.ID {
			return &FileDevice{
				source:       src,
				frameSamples: d.frameSamples,
				paced:        d.paced,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no recording %s", device.ErrNotFound, desc.ID)
}

// FileDevice replays one recording. Samples are read in whole frames; a
// trailing partial sample at the end of the file is ignored.
type FileDevice struct {
	source       Source
	frameSamples int
	paced        bool

	mu        sync.Mutex
	readFile  *os.File
	section   *io.SectionReader
	format    device.Format
	readSize  int
	loop      bool
	ticker    *time.Ticker
	started   bool
	eof       bool
	startTime time.Time
	offset    uint64
}

func (f *FileDevice) Open(cfg device.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readFile != nil {
		return fmt.Errorf("%w: %s already open", device.ErrOpen, f.source.Path)
	}

	file, err := os.Open(f.source.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}

	size := int64(cfg.Format.Size())
	usable := info.Size() - info.Size()%size
	if usable == 0 {
		file.Close()
		return fmt.Errorf("%w: %s is shorter than one %s sample", device.ErrOpen, f.source.Path, cfg.Format)
	}

	f.readFile = file
	f.section = io.NewSectionReader(file, 0, usable)
	f.format = cfg.Format
	f.readSize = f.frameSamples * cfg.Format.Size()
	f.loop = cfg.Loop
	return nil
}

func (f *FileDevice) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readFile == nil {
		return fmt.Errorf("%w: %s not open", device.ErrStart, f.source.Path)
	}
	if f.started {
		return nil
	}
	if f.paced {
		f.ticker = time.NewTicker(time.Duration(f.frameSamples) * time.Second / time.Duration(f.source.SampleRate))
	}
	f.startTime = time.Now()
	f.started = true
	return nil
}

func (f *FileDevice) Read(timeout time.Duration) (*device.Frame, error) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return nil, device.Fault(errors.New("replay not started"))
	}
	if f.eof {
		f.mu.Unlock()
		return nil, device.Fault(io.EOF)
	}
	ticker := f.ticker
	f.mu.Unlock()

	if ticker != nil {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ticker.C:
		case <-timer.C:
			return nil, device.ErrReadTimeout
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.section == nil {
		return nil, device.Fault(os.ErrClosed)
	}

	buf := make([]byte, f.readSize)
	n := 0
	for n < len(buf) {
		m, err := f.section.Read(buf[n:])
		n += m
		if errors.Is(err, io.EOF) {
			if !f.loop {
				f.eof = true
				break
			}
			if _, err := f.section.Seek(0, io.SeekStart); err != nil {
				return nil, device.Fault(err)
			}
			continue
		}
		if err != nil {
			return nil, device.Fault(err)
		}
	}
	if n == 0 {
		return nil, device.Fault(io.EOF)
	}

	frame := &device.Frame{
		Offset:     f.offset,
		Timestamp:  f.startTime.Add(time.Duration(float64(f.offset) / float64(f.source.SampleRate) * float64(time.Second))),
		Format:     f.format,
		SampleRate: f.source.SampleRate,
		Frequency:  f.source.Frequency,
		Data:       buf[:n],
	}
	f.offset += uint64(frame.Samples())
	return frame, nil
}

func (f *FileDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticker != nil {
		f.ticker.Stop()
		f.ticker = nil
	}
	f.started = false
	return nil
}

func (f *FileDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readFile == nil {
		return nil
	}
	err := f.readFile.Close()
	f.readFile = nil
	f.section = nil
	return err
}
