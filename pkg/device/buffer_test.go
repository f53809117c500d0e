package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSampleBuffer(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{"positive", 8, false},
		{"zero", 0, true},
		{"negative", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewSampleBuffer(tt.capacity)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.capacity, buf.Cap())
			assert.Equal(t, 0, buf.Len())
		})
	}
}

func TestSampleBufferFIFO(t *testing.T) {
	buf, err := NewSampleBuffer(4)
	require.NoError(t, err)
	ctx := context.Background()

	frames := []*Frame{testFrame(0), testFrame(2), testFrame(4)}
	for _, f := range frames {
		require.NoError(t, buf.Push(ctx, f, 0))
	}
	for _, want := range frames {
		got, err := buf.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
}

func TestSampleBufferWrapsAround(t *testing.T) {
	buf, err := NewSampleBuffer(3)
	require.NoError(t, err)
	ctx := context.Background()

	var next uint64
	for round := 0; round < 5; round++ {
		for i := 0; i < 2; i++ {
			require.NoError(t, buf.Push(ctx, testFrame(next), 0))
			next++
		}
		for i := 0; i < 2; i++ {
			f, err := buf.Pop(ctx, time.Second)
			require.NoError(t, err)
			assert.Equal(t, next-2+uint64(i), f.Offset)
		}
	}
}

func TestSampleBufferEmptyAndTimeout(t *testing.T) {
	buf, err := NewSampleBuffer(1)
	require.NoError(t, err)

	_, err = buf.Pop(context.Background(), 0)
	assert.ErrorIs(t, err, ErrEmpty)

	start := time.Now()
	_, err = buf.Pop(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSampleBufferFullBlocksProducer(t *testing.T) {
	const capacity = 4
	buf, err := NewSampleBuffer(capacity)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < capacity; i++ {
		require.NoError(t, buf.Push(ctx, testFrame(uint64(i)), 0))
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- buf.Push(ctx, testFrame(capacity), 0)
	}()

	select {
	case err := <-pushed:
		t.Fatalf("push into full buffer returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, capacity, buf.Len())

	first, err := buf.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Offset)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push was not released by the consumer")
	}

	// Nothing was dropped: frames 1..capacity follow in order.
	for i := 1; i <= capacity; i++ {
		f, err := buf.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Offset)
	}
}

func TestSampleBufferOverrun(t *testing.T) {
	buf, err := NewSampleBuffer(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, buf.Push(ctx, testFrame(0), 0))
	require.NoError(t, buf.Push(ctx, testFrame(1), 0))

	err = buf.Push(ctx, testFrame(2), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrOverrun)
	assert.Equal(t, 2, buf.Len())
}

func TestSampleBufferPushCancelled(t *testing.T) {
	buf, err := NewSampleBuffer(1)
	require.NoError(t, err)
	require.NoError(t, buf.Push(context.Background(), testFrame(0), 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = buf.Push(ctx, testFrame(1), 0)
	assert.ErrorIs(t, err, context.Canceled)

	// A cancelled context never writes, even with room.
	_, err = buf.Pop(context.Background(), 0)
	require.NoError(t, err)
	assert.ErrorIs(t, buf.Push(ctx, testFrame(2), 0), context.Canceled)
	assert.Equal(t, 0, buf.Len())
}

func TestSampleBufferCloseDrainsThenFails(t *testing.T) {
	buf, err := NewSampleBuffer(4)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, buf.Push(ctx, testFrame(0), 0))
	require.NoError(t, buf.Push(ctx, testFrame(1), 0))

	fault := errors.New("usb gone")
	buf.CloseWithError(fault)
	buf.CloseWithError(errors.New("ignored"))

	assert.ErrorIs(t, buf.Push(ctx, testFrame(2), 0), ErrClosed)

	for i := 0; i < 2; i++ {
		f, err := buf.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.Offset)
	}
	_, err = buf.Pop(ctx, time.Second)
	assert.ErrorIs(t, err, fault)
}

func TestSampleBufferCloseWakesWaiters(t *testing.T) {
	buf, err := NewSampleBuffer(1)
	require.NoError(t, err)

	popped := make(chan error, 1)
	go func() {
		_, err := buf.Pop(context.Background(), time.Minute)
		popped <- err
	}()

	time.Sleep(10 * time.Millisecond)
	buf.CloseWithError(nil)

	select {
	case err := <-popped:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake the consumer")
	}
}

func TestSampleBufferConcurrentOrder(t *testing.T) {
	const total = 2000
	buf, err := NewSampleBuffer(8)
	require.NoError(t, err)
	ctx := context.Background()

	go func() {
		for i := 0; i < total; i++ {
			if err := buf.Push(ctx, testFrame(uint64(i)), 0); err != nil {
				return
			}
		}
	}()

	for i := 0; i < total; i++ {
		f, err := buf.Pop(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, uint64(i), f.Offset)
	}
}

func TestSampleBufferReset(t *testing.T) {
	buf, err := NewSampleBuffer(4)
	require.NoError(t, err)
	require.NoError(t, buf.Push(context.Background(), testFrame(0), 0))
	require.NoError(t, buf.Push(context.Background(), testFrame(1), 0))

	assert.Equal(t, 2, buf.Reset())
	assert.Equal(t, 0, buf.Len())
}
