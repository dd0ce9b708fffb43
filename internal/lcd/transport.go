// Package lcd drives the 320x170 panel over USB HID.
package lcd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"s1panel/internal/log"
)

var (
	ErrClosed    = errors.New("lcd: device not open")
	ErrFrameSize = errors.New("lcd: frame size mismatch")
)

// DefaultPacing is the gap between consecutive chunk writes.
const DefaultPacing = 5 * time.Millisecond

// Device is an open HID handle.
type Device interface {
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens the panel.
type Opener func() (Device, error)

// State of the transport.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFaulted:
		return "faulted"
	default:
		return "closed"
	}
}

// Observer receives transport events. metrics.Pipeline implements it.
type Observer interface {
	FrameSent(d time.Duration)
	ChunkFailed()
	Recovered(ok bool)
}

type Option func(*Transport)

func WithPacing(d time.Duration) Option { return func(t *Transport) { t.pace = d } }

// WithSleep replaces time.Sleep for chunk pacing.
func WithSleep(fn func(time.Duration)) Option { return func(t *Transport) { t.sleep = fn } }

func WithObserver(o Observer) Option { return func(t *Transport) { t.obs = o } }

// Transport sends frames and config commands to the panel. Frame and
// command methods are meant for a single goroutine; State is safe to call
// from anywhere.
type Transport struct {
	open  Opener
	dev   Device
	state atomic.Int32
	pace  time.Duration
	sleep func(time.Duration)
	obs   Observer
	buf   []byte
	now   func() time.Time
}

func New(open Opener, opts ...Option) *Transport {
	t := &Transport{
		open:  open,
		pace:  DefaultPacing,
		sleep: time.Sleep,
		buf:   make([]byte, 1+ReportSize),
		now:   time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) State() State { return State(t.state.Load()) }

// Open opens the device if it is not already open.
func (t *Transport) Open() error {
	if t.State() == StateOpen && t.dev != nil {
		return nil
	}
	dev, err := t.open()
	if err != nil {
		t.dev = nil
		t.state.Store(int32(StateClosed))
		return fmt.Errorf("lcd: open: %w", err)
	}
	t.dev = dev
	t.state.Store(int32(StateOpen))
	log.Info("lcd device opened")
	return nil
}

// Redraw transmits one encoded frame as 27 paced chunks. A failed chunk
// aborts the frame and triggers one close/reopen; the next frame starts
// from chunk 1.
func (t *Transport) Redraw(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks, err := Split(frame)
	if err != nil {
		return err
	}
	if err := t.Open(); err != nil {
		return err
	}

	start := t.now()
	for i, c := range chunks {
		if i > 0 && t.pace > 0 {
			t.sleep(t.pace)
		}
		c.EncodeReport(t.buf)
		if err := t.write(t.buf); err != nil {
			if t.obs != nil {
				t.obs.ChunkFailed()
			}
			log.Warn("lcd chunk write failed", "chunk", c.Sequence(), "role", c.Role().String(), "err", err)
			t.recover()
			return fmt.Errorf("lcd: chunk %d/%d: %w", c.Sequence(), ChunkCount, err)
		}
	}
	if t.obs != nil {
		t.obs.FrameSent(t.now().Sub(start))
	}
	return nil
}

// SetOrientation tells the panel which way it is mounted.
func (t *Transport) SetOrientation(portrait bool) error {
	return t.command("orientation", OrientationReport(portrait))
}

// Heartbeat pushes the current time to the panel.
func (t *Transport) Heartbeat(now time.Time) error {
	return t.command("heartbeat", HeartbeatReport(now))
}

func (t *Transport) command(name string, report []byte) error {
	if err := t.Open(); err != nil {
		return err
	}
	if err := t.write(report); err != nil {
		log.Warn("lcd command failed", "command", name, "err", err)
		t.recover()
		return fmt.Errorf("lcd: %s: %w", name, err)
	}
	return nil
}

// Close releases the device. Calling it on a closed transport is a no-op.
func (t *Transport) Close() error {
	dev := t.dev
	t.dev = nil
	t.state.Store(int32(StateClosed))
	if dev == nil {
		return nil
	}
	return dev.Close()
}

func (t *Transport) write(p []byte) error {
	if t.dev == nil {
		return ErrClosed
	}
	n, err := t.dev.Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// recover closes the faulted handle and makes exactly one reopen attempt.
func (t *Transport) recover() {
	t.state.Store(int32(StateFaulted))
	if t.dev != nil {
		if err := t.dev.Close(); err != nil {
			log.Debug("lcd close after fault", "err", err)
		}
		t.dev = nil
	}
	dev, err := t.open()
	if err != nil {
		t.state.Store(int32(StateClosed))
		log.Error("lcd reopen failed", err)
		if t.obs != nil {
			t.obs.Recovered(false)
		}
		return
	}
	t.dev = dev
	t.state.Store(int32(StateOpen))
	log.Info("lcd device reopened")
	if t.obs != nil {
		t.obs.Recovered(true)
	}
}
