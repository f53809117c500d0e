package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/norasector/dabdevice/pkg/device"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// evenRecording is four CU8 samples spanning the full value range.
var evenRecording = []byte{0, 32, 64, 96, 128, 160, 192, 255}

func writeRecording(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.iq")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func cu8Config() device.Config {
	return device.Config{Format: device.FormatCU8, SampleRate: 2048000}
}

func openDevice(t *testing.T, path string, cfg device.Config, opts ...Option) *FileDevice {
	t.Helper()
	d := NewDriver([]Source{{Path: path}}, opts...)
	b, err := d.NewBackend(device.Descriptor{ID: "file:" + path})
	require.NoError(t, err)
	fd := b.(*FileDevice)
	require.NoError(t, fd.Open(cfg))
	t.Cleanup(func() { _ = fd.Close() })
	require.NoError(t, fd.Start())
	return fd
}

func TestDriverEnumerate(t *testing.T) {
	path := writeRecording(t, evenRecording)
	d := NewDriver([]Source{
		{Path: path, Frequency: 227360000},
		{Path: filepath.Join(t.TempDir(), "missing.iq")},
		{Path: t.TempDir()},
	})

	descs, err := d.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descs, 1)

	desc := descs[0]
	assert.Equal(t, "file:"+path, desc.ID)
	assert.Equal(t, "capture.iq", desc.Name)
	assert.Equal(t, DriverName, desc.Driver)
	assert.Equal(t, []device.Format{device.FormatCU8}, desc.Formats)
	assert.True(t, desc.SupportsRate(2048000))
	assert.True(t, desc.Capabilities.Loop)
	assert.True(t, desc.Exclusive())
	assert.False(t, desc.Capabilities.Tuning)
}

func TestDriverUnknownBackend(t *testing.T) {
	d := NewDriver(nil)
	_, err := d.NewBackend(device.Descriptor{ID: "file:/nowhere.iq"})
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestReadEvenFile(t *testing.T) {
	fd := openDevice(t, writeRecording(t, evenRecording), cu8Config(), WithFrameSamples(4))

	frame, err := fd.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Samples())
	assert.Equal(t, uint64(0), frame.Offset)
	assert.Equal(t, []complex64{
		complex(-1, -0.75),
		complex(-0.5, -0.25),
		complex(0, 0.25),
		complex(0.5, 0.9921875),
	}, frame.Complex64())

	_, err = fd.Read(time.Second)
	assert.ErrorIs(t, err, device.ErrDeviceFault)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadIgnoresTrailingPartialSample(t *testing.T) {
	data := append(append([]byte(nil), evenRecording...), 42)
	fd := openDevice(t, writeRecording(t, data), cu8Config(), WithFrameSamples(16))

	frame, err := fd.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Samples())
	assert.Equal(t, evenRecording, frame.Data)
}

func TestOpenTooShort(t *testing.T) {
	for name, data := range map[string][]byte{"empty": {}, "one byte": {7}} {
		t.Run(name, func(t *testing.T) {
			path := writeRecording(t, data)
			b, err := NewDriver([]Source{{Path: path}}).NewBackend(device.Descriptor{ID: "file:" + path})
			require.NoError(t, err)
			assert.ErrorIs(t, b.Open(cu8Config()), device.ErrOpen)
			assert.NoError(t, b.Close())
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.iq")
	b, err := NewDriver([]Source{{Path: path}}).NewBackend(device.Descriptor{ID: "file:" + path})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Open(cu8Config()), device.ErrOpen)
}

func TestReadPartialFrameThenEOF(t *testing.T) {
	fd := openDevice(t, writeRecording(t, evenRecording), cu8Config(), WithFrameSamples(3))

	first, err := fd.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Samples())
	assert.Equal(t, uint64(0), first.Offset)

	rest, err := fd.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, rest.Samples())
	assert.Equal(t, uint64(3), rest.Offset)
	assert.Equal(t, []byte{192, 255}, rest.Data)
	assert.True(t, rest.Timestamp.After(first.Timestamp))

	_, err = fd.Read(time.Second)
	assert.ErrorIs(t, err, io.EOF)
	_, err = fd.Read(time.Second)
	assert.ErrorIs(t, err, device.ErrDeviceFault)
}

func TestReadLoops(t *testing.T) {
	cfg := cu8Config()
	cfg.Loop = true
	fd := openDevice(t, writeRecording(t, evenRecording), cfg, WithFrameSamples(3))

	var samples int
	for i := 0; i < 5; i++ {
		frame, err := fd.Read(time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(samples), frame.Offset)
		assert.Equal(t, 3, frame.Samples())
		samples += frame.Samples()
	}
	assert.Greater(t, samples, 4)

	// The second frame wraps from the last sample back to the start.
	fd2 := openDevice(t, writeRecording(t, evenRecording), cfg, WithFrameSamples(3))
	_, err := fd2.Read(time.Second)
	require.NoError(t, err)
	wrapped, err := fd2.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{192, 255, 0, 32, 64, 96}, wrapped.Data)
}

func TestReadBeforeStart(t *testing.T) {
	path := writeRecording(t, evenRecording)
	b, err := NewDriver([]Source{{Path: path}}).NewBackend(device.Descriptor{ID: "file:" + path})
	require.NoError(t, err)
	require.NoError(t, b.Open(cu8Config()))
	defer b.Close()

	_, err = b.Read(time.Second)
	assert.ErrorIs(t, err, device.ErrDeviceFault)
}

func TestPacedReadTimesOut(t *testing.T) {
	path := writeRecording(t, evenRecording)
	d := NewDriver([]Source{{Path: path, SampleRate: 1000}}, WithFrameSamples(2), WithPacing())
	b, err := d.NewBackend(device.Descriptor{ID: "file:" + path})
	require.NoError(t, err)
	require.NoError(t, b.Open(device.Config{Format: device.FormatCU8, SampleRate: 1000}))
	require.NoError(t, b.Start())

	// Two samples at 1 kHz are due every 2ms.
	_, err = b.Read(time.Microsecond)
	assert.ErrorIs(t, err, device.ErrReadTimeout)

	frame, err := b.Read(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Samples())

	require.NoError(t, b.Stop())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestRegistryReplay(t *testing.T) {
	path := writeRecording(t, evenRecording)
	r := device.NewRegistry()
	require.NoError(t, r.Register(NewDriver([]Source{{Path: path}}, WithFrameSamples(4))))
	ctx := context.Background()

	_, err := r.Open(ctx, "file:"+path, device.Config{Format: device.FormatCS16, SampleRate: 2048000})
	assert.ErrorIs(t, err, device.ErrUnsupportedFormat)

	h, err := r.Open(ctx, "file:"+path, cu8Config())
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.Start(ctx))

	frame, err := h.Read(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Sequence)
	assert.Equal(t, 4, frame.Samples())

	_, err = h.Read(ctx, time.Second)
	assert.ErrorIs(t, err, device.ErrDeviceFault)
	assert.ErrorIs(t, err, io.EOF)

	<-h.Done()
	assert.Equal(t, device.StateFaulted, h.State())
	require.NoError(t, h.Close())
	assert.False(t, r.Held("file:"+path))
}

func TestRegistryReplayLoop(t *testing.T) {
	path := writeRecording(t, evenRecording)
	r := device.NewRegistry()
	require.NoError(t, r.Register(NewDriver([]Source{{Path: path}}, WithFrameSamples(3))))
	ctx := context.Background()

	cfg := cu8Config()
	cfg.Loop = true
	h, err := r.Open(ctx, "file:"+path, cfg, device.WithBufferCapacity(2))
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))

	for seq := uint64(1); seq <= 10; seq++ {
		frame, err := h.Read(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, seq, frame.Sequence)
		require.Equal(t, (seq-1)*3, frame.Offset)
	}

	require.NoError(t, h.Stop(ctx))
	assert.Equal(t, device.StateClosed, h.State())
	require.NoError(t, h.Close())
}
