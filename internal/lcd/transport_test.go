package lcd

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice records every write and can fail on a chosen write number.
type fakeDevice struct {
	writes [][]byte
	failAt int // 1-based; 0 never fails
	closed bool
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.closed {
		return 0, errors.New("write on closed handle")
	}
	d.writes = append(d.writes, append([]byte(nil), p...))
	if d.failAt > 0 && len(d.writes) == d.failAt {
		return 0, errors.New("pipe error")
	}
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type opener struct {
	devices []*fakeDevice
	calls   int
	fail    bool
}

func (o *opener) open() (Device, error) {
	o.calls++
	if o.fail {
		return nil, errors.New("no such device")
	}
	d := &fakeDevice{}
	o.devices = append(o.devices, d)
	return d, nil
}

func (o *opener) last() *fakeDevice { return o.devices[len(o.devices)-1] }

type countingObserver struct {
	frames, failures int
	recovered        []bool
}

func (c *countingObserver) FrameSent(time.Duration) { c.frames++ }
func (c *countingObserver) ChunkFailed()            { c.failures++ }
func (c *countingObserver) Recovered(ok bool)       { c.recovered = append(c.recovered, ok) }

func testFrame() []byte {
	f := make([]byte, FrameSize)
	for i := range f {
		f[i] = byte(i % 251)
	}
	return f
}

func TestSplitGeometry(t *testing.T) {
	chunks, err := Split(testFrame())
	require.NoError(t, err)
	require.Len(t, chunks, ChunkCount)

	total := 0
	for i, c := range chunks {
		assert.Equal(t, i*ChunkSize, c.Offset)
		total += len(c.Data)
	}
	assert.Equal(t, FrameSize, total)
	assert.Len(t, chunks[26].Data, 2304)
	assert.Equal(t, RoleStart, chunks[0].Role())
	assert.Equal(t, RoleContinue, chunks[13].Role())
	assert.Equal(t, RoleEnd, chunks[26].Role())

	_, err = Split(make([]byte, FrameSize-1))
	assert.ErrorIs(t, err, ErrFrameSize)
}

func TestRedrawWritesTwentySevenReports(t *testing.T) {
	op := &opener{}
	var sleeps []time.Duration
	tr := New(op.open, WithSleep(func(d time.Duration) { sleeps = append(sleeps, d) }))

	frame := testFrame()
	require.NoError(t, tr.Redraw(context.Background(), frame))

	dev := op.last()
	require.Len(t, dev.writes, ChunkCount)
	assert.Len(t, sleeps, ChunkCount-1, "pacing only between chunks")
	for _, d := range sleeps {
		assert.Equal(t, DefaultPacing, d)
	}

	var payload []byte
	for i, w := range dev.writes {
		require.Len(t, w, 1+ReportSize)
		assert.Equal(t, byte(0x00), w[0])
		h := w[1:]
		assert.Equal(t, byte(Signature), h[0])
		assert.Equal(t, byte(CmdRedraw), h[1])
		assert.Equal(t, byte(i+1), h[3], "sequence is 1-based")
		assert.Equal(t, uint16(i*ChunkSize), binary.BigEndian.Uint16(h[5:7]))

		n := int(binary.BigEndian.Uint16(h[7:9]))
		switch i {
		case 0:
			assert.Equal(t, byte(RoleStart), h[2])
		case ChunkCount - 1:
			assert.Equal(t, byte(RoleEnd), h[2])
			assert.Equal(t, FinalChunkSize, n)
			for _, b := range h[HeaderSize+n:] {
				require.Equal(t, byte(0), b, "tail of final chunk is zero padded")
			}
		default:
			assert.Equal(t, byte(RoleContinue), h[2])
			assert.Equal(t, ChunkSize, n)
		}
		payload = append(payload, h[HeaderSize:HeaderSize+n]...)
	}
	assert.Equal(t, frame, payload)
	assert.Equal(t, StateOpen, tr.State())
}

func TestRedrawFailureRecoversOnce(t *testing.T) {
	op := &opener{}
	obs := &countingObserver{}
	tr := New(op.open, WithSleep(func(time.Duration) {}), WithObserver(obs))
	require.NoError(t, tr.Open())
	op.last().failAt = 14

	err := tr.Redraw(context.Background(), testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 14/27")

	first := op.devices[0]
	assert.Len(t, first.writes, 14, "chunks after the failure are not sent")
	assert.True(t, first.closed)
	assert.Equal(t, 2, op.calls, "exactly one reopen")
	assert.Equal(t, StateOpen, tr.State())
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, []bool{true}, obs.recovered)

	// The next frame starts over from chunk 1 on the new handle.
	require.NoError(t, tr.Redraw(context.Background(), testFrame()))
	second := op.last()
	require.Len(t, second.writes, ChunkCount)
	assert.Equal(t, byte(RoleStart), second.writes[0][3])
	assert.Equal(t, byte(1), second.writes[0][4])
	assert.Equal(t, 1, obs.frames)
}

func TestRedrawReopenFailureLeavesClosed(t *testing.T) {
	op := &opener{}
	tr := New(op.open, WithSleep(func(time.Duration) {}))
	require.NoError(t, tr.Open())
	op.last().failAt = 1
	op.fail = true

	require.Error(t, tr.Redraw(context.Background(), testFrame()))
	assert.Equal(t, StateClosed, tr.State())
	assert.Equal(t, 2, op.calls)

	err := tr.Redraw(context.Background(), testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestRedrawHonoursCancelledContext(t *testing.T) {
	op := &opener{}
	tr := New(op.open, WithSleep(func(time.Duration) {}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tr.Redraw(ctx, testFrame()), context.Canceled)
	assert.Equal(t, 0, op.calls)
}

func TestOrientationAndHeartbeatReports(t *testing.T) {
	op := &opener{}
	tr := New(op.open)

	require.NoError(t, tr.SetOrientation(true))
	require.NoError(t, tr.SetOrientation(false))
	require.NoError(t, tr.Heartbeat(time.Date(2025, 1, 2, 13, 45, 7, 0, time.Local)))

	w := op.last().writes
	require.Len(t, w, 3)
	assert.Equal(t, []byte{0x00, 0x55, 0xA1, 0xF1, 0x02}, w[0][:5])
	assert.Equal(t, []byte{0x00, 0x55, 0xA1, 0xF1, 0x01}, w[1][:5])
	assert.Equal(t, []byte{0x00, 0x55, 0xA1, 0xF2, 13, 45, 7}, w[2][:7])
}

func TestCloseIsIdempotent(t *testing.T) {
	op := &opener{}
	tr := New(op.open)
	require.NoError(t, tr.Open())
	require.NoError(t, tr.Close())
	assert.True(t, op.last().closed)
	assert.Equal(t, StateClosed, tr.State())
	assert.NoError(t, tr.Close())
}
