// Package periphi2c lets the TinyGo drivers run on a Linux host by exposing a
// periph.io I2C bus as a drivers.I2C.
package periphi2c

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*Bus)(nil)

// Bus serialises transactions on a periph bus.
type Bus struct {
	mu  sync.Mutex
	bus i2c.Bus
	c   i2c.BusCloser // nil when wrapping a bus we do not own
}

// Wrap adapts an already opened bus. Close does not close it.
func Wrap(b i2c.Bus) *Bus { return &Bus{bus: b} }

// Open opens a bus by name ("" for the first one) via the periph registry.
// host.Init must have run first.
func Open(name string, speed physic.Frequency) (*Bus, error) {
	bc, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c %q: %w", name, err)
	}
	if speed > 0 {
		if err := bc.SetSpeed(speed); err != nil {
			_ = bc.Close()
			return nil, fmt.Errorf("i2c %s speed %s: %w", bc, speed, err)
		}
	}
	return &Bus{bus: bc, c: bc}, nil
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Tx(addr, w, r)
}

func (b *Bus) String() string { return b.bus.String() }

func (b *Bus) Close() error {
	if b.c == nil {
		return nil
	}
	return b.c.Close()
}
