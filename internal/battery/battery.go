// Package battery reads a PiSugar-style fuel gauge over I2C.
package battery

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the gauge's 7-bit I2C address.
const DefaultAddr = 0x57

// Gauge registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

var ErrUnsupported = errors.New("battery: i2c unavailable on this platform")

// Status is one gauge reading.
type Status struct {
	Percent   int `json:"percent"`
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts the gauge so the sensor can be tested without a bus.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Tx is one register transaction; *i2c.Dev satisfies it.
type Tx interface {
	Tx(w, r []byte) error
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

type i2cReader struct {
	bus  string
	addr uint16
}

// NewI2CReader reads the gauge at addr on bus ("" selects the default bus).
// The bus is opened per read.
func NewI2CReader(bus string, addr uint16) Reader {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &i2cReader{bus: bus, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, ErrUnsupported
	}
	if err := hostInit(); err != nil {
		return Status{}, err
	}
	bus, err := i2creg.Open(r.bus)
	if err != nil {
		return Status{}, err
	}
	defer bus.Close()
	return ReadGauge(&i2c.Dev{Bus: bus, Addr: r.addr})
}

// ReadGauge performs the three register reads of one sample.
func ReadGauge(dev Tx) (Status, error) {
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}
