package device

import (
	"context"
	"errors"
	"time"

	"github.com/norasector/dabdevice/pkg/util"
)

// acquire is the acquisition loop. It runs on its own goroutine from Start
// until the loop context is cancelled or the backend faults, and it is the
// only writer to the sample buffer.
func (h *Handle) acquire(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := h.pump(ctx)
	h.reportMetrics()

	if err != nil {
		h.fault(err)
		return
	}

	// Cancelled: no further reads.
	if stopErr := h.backend.Stop(); stopErr != nil {
		h.logger.Warn().Err(stopErr).Msg("backend stop failed")
	}

	// A cancelled parent context stops the handle without a Stop call.
	h.mu.Lock()
	abandoned := h.state == StateRunning
	var from State
	if abandoned {
		from = h.setStateLocked(StateStopping)
	}
	h.mu.Unlock()
	if abandoned {
		h.notify(from, StateStopping)
		_ = h.shutdown()
	}
}

// pump moves frames from the backend into the buffer. It returns nil when
// ctx is cancelled and the translated fault otherwise.
func (h *Handle) pump(ctx context.Context) error {
	var seq uint64
	for {
		if ctx.Err() != nil {
			return nil
		}

		var (
			frame *Frame
			err   error
		)
		readTime := util.TimeOperation(func() {
			frame, err = h.backend.Read(h.readTimeout)
		})
		h.stats.readMicros.Add(util.Micros(readTime))

		switch {
		case errors.Is(err, ErrReadTimeout):
			h.stats.timeouts.Add(1)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			return translate("read", h.desc.ID, err, ErrDeviceFault)
		case frame == nil:
			continue
		}

		seq++
		frame.Sequence = seq

		start := time.Now()
		if err := h.buf.Push(ctx, frame, h.overrunTimeout); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return translate("acquire", h.desc.ID, err, ErrOverrun)
		}
		h.stats.blockedMicros.Add(util.Micros(time.Since(start)))

		h.stats.frames.Add(1)
		h.stats.samples.Add(uint64(frame.Samples()))
		h.stats.bytes.Add(uint64(len(frame.Data)))
		h.stats.lastSequence.Store(seq)

		if seq%uint64(h.metricsEvery) == 0 {
			h.reportMetrics()
		}
	}
}
