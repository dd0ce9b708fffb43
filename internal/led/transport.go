package led

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"s1panel/internal/log"
	"s1panel/internal/model"
)

// DefaultPacing is the gap between bytes of one frame.
const DefaultPacing = 5 * time.Millisecond

// Port is an open serial connection.
type Port interface {
	io.Writer
	Close() error
}

// Dialer opens the port at path.
type Dialer func(path string) (Port, error)

// DialSerial opens path at 115200 8N1.
func DialSerial(path string) (Port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return serialPort{Port: p, path: path}, nil
}

// liveness is implemented by ports that can tell a vanished device from an
// idle one.
type liveness interface {
	Alive() bool
}

type serialPort struct {
	serial.Port
	path string
}

// Alive reports whether the device node still exists and the handle still
// answers a modem status query. Both fail once the adapter is unplugged.
func (p serialPort) Alive() bool {
	if _, err := os.Stat(p.path); err != nil {
		return false
	}
	_, err := p.GetModemStatusBits()
	return err == nil
}

type Option func(*Transport)

func WithPacing(d time.Duration) Option { return func(t *Transport) { t.pace = d } }

func WithSleep(fn func(time.Duration)) Option { return func(t *Transport) { t.sleep = fn } }

// Transport owns the serial connection to the strip.
type Transport struct {
	mu    sync.Mutex
	dial  Dialer
	port  Port
	path  string
	pace  time.Duration
	sleep func(time.Duration)
}

func New(dial Dialer, opts ...Option) *Transport {
	t := &Transport{dial: dial, pace: DefaultPacing, sleep: time.Sleep}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Set sends s to the strip at path. The port is opened lazily and reopened
// when path changes or the open handle has gone stale. A failed write drops
// the port so the next call reconnects.
func (t *Transport) Set(path string, s model.LEDSetting) error {
	frame, ok, err := Frame(s)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensure(path); err != nil {
		return err
	}
	for i, b := range frame {
		if i > 0 && t.pace > 0 {
			t.sleep(t.pace)
		}
		if _, err := t.port.Write([]byte{b}); err != nil {
			t.drop()
			return fmt.Errorf("led: write byte %d: %w", i, err)
		}
	}
	return nil
}

// Close releases the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *Transport) ensure(path string) error {
	if t.port != nil && t.path == path {
		l, ok := t.port.(liveness)
		if !ok || l.Alive() {
			return nil
		}
		log.Debug("led port stale; reopening", "device", path)
	}
	if t.port != nil {
		t.drop()
	}
	p, err := t.dial(path)
	if err != nil {
		return fmt.Errorf("led: open %s: %w", path, err)
	}
	t.port = p
	t.path = path
	log.Debug("led port opened", "device", path)
	return nil
}

func (t *Transport) drop() {
	if err := t.port.Close(); err != nil {
		log.Debug("led close", "err", err)
	}
	t.port = nil
}
