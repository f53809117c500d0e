package device

import (
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
)

type stats struct {
	frames        atomic.Uint64
	samples       atomic.Uint64
	bytes         atomic.Uint64
	timeouts      atomic.Uint64
	readMicros    atomic.Uint64
	blockedMicros atomic.Uint64
	lastSequence  atomic.Uint64
}

// Stats is a snapshot of acquisition counters for a handle.
type Stats struct {
	Frames       uint64
	Samples      uint64
	Bytes        uint64
	Timeouts     uint64
	LastSequence uint64
	// ReadTime is spent inside backend reads, BlockedTime waiting on a full buffer.
	ReadTime    time.Duration
	BlockedTime time.Duration
	Buffered    int
}

func (h *Handle) Stats() Stats {
	return Stats{
		Frames:       h.stats.frames.Load(),
		Samples:      h.stats.samples.Load(),
		Bytes:        h.stats.bytes.Load(),
		Timeouts:     h.stats.timeouts.Load(),
		LastSequence: h.stats.lastSequence.Load(),
		ReadTime:     time.Duration(h.stats.readMicros.Load()) * time.Microsecond,
		BlockedTime:  time.Duration(h.stats.blockedMicros.Load()) * time.Microsecond,
		Buffered:     h.buf.Len(),
	}
}

func (h *Handle) reportMetrics() {
	s := h.Stats()
	h.writeAPI.WritePoint(influxdb2.NewPoint("device.acquisition",
		map[string]string{
			"device": h.desc.ID,
			"driver": h.desc.Driver,
		},
		map[string]interface{}{
			"frames":     s.Frames,
			"samples":    s.Samples,
			"bytes":      s.Bytes,
			"timeouts":   s.Timeouts,
			"read_us":    s.ReadTime.Microseconds(),
			"blocked_us": s.BlockedTime.Microseconds(),
			"buffered":   s.Buffered,
		}, time.Now()))
}
