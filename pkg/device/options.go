package device

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
)

const (
	defaultBufferCapacity  = 32
	defaultReadTimeout     = 100 * time.Millisecond
	defaultMetricsInterval = 64
)

type HandleOption func(h *Handle) error

func WithLogger(logger zerolog.Logger) HandleOption {
	return func(h *Handle) error {
		h.logger = logger
		return nil
	}
}

// WithInfluxDB reports acquisition statistics as points to writeAPI.
func WithInfluxDB(writeAPI api.WriteAPI) HandleOption {
	return func(h *Handle) error {
		h.writeAPI = writeAPI
		return nil
	}
}

// WithMetricsInterval sets how many frames pass between metric points.
func WithMetricsInterval(frames int) HandleOption {
	return func(h *Handle) error {
		if frames <= 0 {
			return fmt.Errorf("%w: metrics interval must be positive", ErrInvalidConfig)
		}
		h.metricsEvery = frames
		return nil
	}
}

// WithBufferCapacity sets the number of frames the sample buffer holds.
func WithBufferCapacity(frames int) HandleOption {
	return func(h *Handle) error {
		if frames <= 0 {
			return fmt.Errorf("%w: buffer capacity must be positive", ErrInvalidConfig)
		}
		h.capacity = frames
		return nil
	}
}

// WithReadTimeout bounds each backend read, and with it how quickly the
// acquisition loop notices a stop.
func WithReadTimeout(d time.Duration) HandleOption {
	return func(h *Handle) error {
		if d <= 0 {
			return fmt.Errorf("%w: read timeout must be positive", ErrInvalidConfig)
		}
		h.readTimeout = d
		return nil
	}
}

// WithOverrunTimeout makes a buffer that stays full for d fault the handle
// with ErrOverrun. Zero, the default, blocks the acquisition loop instead.
func WithOverrunTimeout(d time.Duration) HandleOption {
	return func(h *Handle) error {
		if d < 0 {
			return fmt.Errorf("%w: overrun timeout must not be negative", ErrInvalidConfig)
		}
		h.overrunTimeout = d
		return nil
	}
}

// WithStateListener registers fn to be called after every state change.
// fn runs on the goroutine that caused the change and must not block.
func WithStateListener(fn func(from, to State)) HandleOption {
	return func(h *Handle) error {
		h.listeners = append(h.listeners, fn)
		return nil
	}
}
