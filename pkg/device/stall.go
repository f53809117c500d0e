package device

import (
	"fmt"
	"time"
)

// StallTimer reports a device as lost once it delivered nothing for longer
// than its limit. Backends whose driver cannot signal a disconnect use it
// from Read. It is not safe for concurrent use.
type StallTimer struct {
	limit time.Duration
	last  time.Time
}

// NewStallTimer returns a timer that never expires when limit <= 0.
func NewStallTimer(limit time.Duration) *StallTimer {
	return &StallTimer{limit: limit}
}

// Reset records that samples arrived at now.
func (s *StallTimer) Reset(now time.Time) {
	s.last = now
}

// Check returns a device fault if nothing arrived for longer than the limit
// before now. It returns nil before the first Reset.
func (s *StallTimer) Check(now time.Time) error {
	if s.limit <= 0 || s.last.IsZero() {
		return nil
	}
	if idle := now.Sub(s.last); idle > s.limit {
		return Fault(fmt.Errorf("no samples for %s", idle.Round(time.Millisecond)))
	}
	return nil
}
