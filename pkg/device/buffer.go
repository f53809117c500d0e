package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SampleBuffer is a bounded FIFO ring of frames shared by one producer, the
// acquisition loop, and one consumer. It never drops a frame: a full buffer
// blocks the producer or, with an overrun timeout, fails the push with
// ErrOverrun.
type SampleBuffer struct {
	mu     sync.Mutex
	frames []*Frame
	head   int
	count  int
	closed bool
	err    error

	// readable and writable carry at most one pending wakeup each. Waiters
	// always recheck the ring under mu, so a stale wakeup is harmless.
	readable chan struct{}
	writable chan struct{}
	done     chan struct{}
}

func NewSampleBuffer(capacity int) (*SampleBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: buffer capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	return &SampleBuffer{
		frames:   make([]*Frame, capacity),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

func (b *SampleBuffer) Cap() int {
	return len(b.frames)
}

func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Push appends frame, waiting while the buffer is full. It returns ctx.Err()
// once ctx is done, ErrClosed after CloseWithError, and ErrOverrun if
// overrunAfter > 0 and the buffer stayed full that long.
func (b *SampleBuffer) Push(ctx context.Context, frame *Frame, overrunAfter time.Duration) error {
	var overrun <-chan time.Time
	if overrunAfter > 0 {
		timer := time.NewTimer(overrunAfter)
		defer timer.Stop()
		overrun = timer.C
	}

	for {
		b.mu.Lock()
		switch {
		case b.closed:
			b.mu.Unlock()
			return ErrClosed
		case ctx.Err() != nil:
			b.mu.Unlock()
			return ctx.Err()
		case b.count < len(b.frames):
			b.frames[(b.head+b.count)%len(b.frames)] = frame
			b.count++
			b.mu.Unlock()
			signal(b.readable)
			return nil
		}
		b.mu.Unlock()

		select {
		case <-b.writable:
		case <-b.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-overrun:
			return fmt.Errorf("%w: buffer full for %s", ErrOverrun, overrunAfter)
		}
	}
}

// Pop removes the oldest frame. With timeout <= 0 it does not wait and
// returns ErrEmpty; otherwise it returns ErrReadTimeout when nothing arrived
// in time. After CloseWithError the remaining frames are still returned,
// then the close error.
func (b *SampleBuffer) Pop(ctx context.Context, timeout time.Duration) (*Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		b.mu.Lock()
		if b.count > 0 {
			frame := b.frames[b.head]
			b.frames[b.head] = nil
			b.head = (b.head + 1) % len(b.frames)
			b.count--
			b.mu.Unlock()
			signal(b.writable)
			return frame, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		b.mu.Unlock()

		if timeout <= 0 {
			return nil, ErrEmpty
		}

		select {
		case <-b.readable:
		case <-b.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, ErrReadTimeout
		}
	}
}

// CloseWithError stops further pushes and wakes all waiters. Pop reports err
// (ErrClosed when nil) once the buffered frames are drained. Only the first
// call has an effect.
func (b *SampleBuffer) CloseWithError(err error) {
	if err == nil {
		err = ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.done)
}

// Reset discards all buffered frames and returns how many were dropped.
// Only used when a handle is torn down.
func (b *SampleBuffer) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := b.count
	for i := range b.frames {
		b.frames[i] = nil
	}
	b.head, b.count = 0, 0
	return dropped
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
