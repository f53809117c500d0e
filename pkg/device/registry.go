package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Registry knows the available drivers, enumerates their devices and
// opens handles on them. Its only shared mutable state is the set of
// exclusive devices currently held.
type Registry struct {
	mu      sync.RWMutex
	drivers []Driver

	heldMu sync.Mutex
	held   map[string]struct{}

	logger     zerolog.Logger
	handleOpts []HandleOption
}

type RegistryOption func(r *Registry)

func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithHandleOptions sets options applied to every handle before the
// options passed to Open.
func WithHandleOptions(opts ...HandleOption) RegistryOption {
	return func(r *Registry) {
		r.handleOpts = append(r.handleOpts, opts...)
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		held:   make(map[string]struct{}),
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Register(driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.Name() == driver.Name() {
			return fmt.Errorf("driver %q already registered", driver.Name())
		}
	}
	r.drivers = append(r.drivers, driver)
	r.logger.Debug().Str("driver", driver.Name()).Msg("registered driver")
	return nil
}

func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for _, d := range r.drivers {
		names = append(names, d.Name())
	}
	return names
}

// Enumerate queries every driver for its current devices. Nothing is
// cached: hardware can come and go between calls. A driver that fails to
// enumerate is logged and skipped.
func (r *Registry) Enumerate(ctx context.Context) ([]Descriptor, error) {
	r.mu.RLock()
	drivers := append([]Driver(nil), r.drivers...)
	r.mu.RUnlock()

	return r.enumerate(ctx, drivers)
}

func (r *Registry) enumerate(ctx context.Context, drivers []Driver) ([]Descriptor, error) {
	results := make([][]Descriptor, len(drivers))

	var eg errgroup.Group
	for i, driver := range drivers {
		i, driver := i, driver
		eg.Go(func() error {
			descs, err := driver.Enumerate(ctx)
			if err != nil {
				r.logger.Warn().Str("driver", driver.Name()).Err(err).Msg("enumeration failed")
				return nil
			}
			results[i] = descs
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []Descriptor
	for _, descs := range results {
		for _, d := range descs {
			all = append(all, d.Clone())
		}
	}
	return all, nil
}

// Lookup enumerates the driver named by id's prefix and returns the
// matching descriptor.
func (r *Registry) Lookup(ctx context.Context, id string) (Descriptor, error) {
	desc, _, err := r.lookup(ctx, id)
	return desc, err
}

func (r *Registry) lookup(ctx context.Context, id string) (Descriptor, Driver, error) {
	name, _, ok := strings.Cut(id, ":")
	if !ok {
		return Descriptor{}, nil, &Error{Op: "lookup", Device: id, Kind: ErrNotFound, Err: fmt.Errorf("expected <driver>:<key>")}
	}

	r.mu.RLock()
	var driver Driver
	for _, d := range r.drivers {
		if d.Name() == name {
			driver = d
			break
		}
	}
	r.mu.RUnlock()
	if driver == nil {
		return Descriptor{}, nil, &Error{Op: "lookup", Device: id, Kind: ErrNotFound, Err: fmt.Errorf("no driver %q", name)}
	}

	descs, err := r.enumerate(ctx, []Driver{driver})
	if err != nil {
		return Descriptor{}, nil, err
	}
	for _, d := range descs {
		if d.ID == id {
			return d, driver, nil
		}
	}
	return Descriptor{}, nil, &Error{Op: "lookup", Device: id, Kind: ErrNotFound}
}

// Open validates cfg against the device, reserves it if exclusive and
// returns an Opened handle. The backend is not instantiated unless cfg is
// acceptable and the device is free.
func (r *Registry) Open(ctx context.Context, id string, cfg Config, opts ...HandleOption) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Op: "open", Device: id, Kind: ErrInvalidConfig, Err: err}
	}

	desc, driver, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := desc.Check(cfg); err != nil {
		return nil, err
	}

	release, err := r.reserve(desc)
	if err != nil {
		return nil, err
	}

	backend, err := driver.NewBackend(desc)
	if err != nil {
		release()
		return nil, translate("open", desc.ID, err, ErrOpen)
	}

	handleOpts := append(append([]HandleOption(nil), r.handleOpts...), opts...)
	h, err := newHandle(desc, cfg, backend, release, handleOpts...)
	if err != nil {
		release()
		return nil, err
	}

	if err := h.open(); err != nil {
		// The backend may hold partial resources.
		_ = backend.Close()
		release()
		r.logger.Warn().Str("device", desc.ID).Err(err).Msg("failed to open device")
		return nil, err
	}
	return h, nil
}

// reserve marks an exclusive device as held and returns the function
// that gives it back. The release function is safe to call more than once.
func (r *Registry) reserve(desc Descriptor) (func(), error) {
	if !desc.Exclusive() {
		return func() {}, nil
	}

	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	if _, busy := r.held[desc.ID]; busy {
		return nil, &Error{Op: "open", Device: desc.ID, Kind: ErrDeviceBusy}
	}
	r.held[desc.ID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.heldMu.Lock()
			delete(r.held, desc.ID)
			r.heldMu.Unlock()
		})
	}, nil
}

// Held reports whether an exclusive device is currently open.
func (r *Registry) Held(id string) bool {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()
	_, ok := r.held[id]
	return ok
}

// Close releases driver-level resources such as native library contexts.
// Handles must be closed first.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, d := range r.drivers {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing driver %s: %w", d.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
