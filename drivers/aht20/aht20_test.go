package aht20

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"
)

var _ drivers.I2C = (*fakeBus)(nil)

// fakeBus answers like an AHT20 whose conversion finishes after a set number
// of status polls.
type fakeBus struct {
	calib      bool
	busyPolls  int
	hraw, traw uint32
	badCRC     bool
	fail       error
	writes     [][]byte
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if f.fail != nil {
		return f.fail
	}
	if addr != Address {
		return errors.New("nack")
	}
	if len(w) > 0 && len(r) == 0 {
		f.writes = append(f.writes, append([]byte(nil), w...))
		if w[0] == cmdInitialize {
			f.calib = true
		}
		return nil
	}
	st := byte(0)
	if f.calib {
		st |= statusCalibrated
	}
	if f.busyPolls > 0 {
		st |= statusBusy
		f.busyPolls--
	}
	if len(r) == 1 {
		r[0] = st
		return nil
	}
	h, t := f.hraw, f.traw
	r[0] = st
	r[1] = byte(h >> 12)
	r[2] = byte(h >> 4)
	r[3] = byte((h&0xF)<<4) | byte((t>>16)&0x0F)
	r[4] = byte(t >> 8)
	r[5] = byte(t)
	r[6] = crc8(r[:6])
	if f.badCRC {
		r[6] ^= 0xFF
	}
	return nil
}

func newFake() *fakeBus {
	// 25.0 °C, 55.0 %RH
	return &fakeBus{calib: true, traw: 393_216, hraw: 576_717}
}

func TestCRC8CheckValue(t *testing.T) {
	require.Equal(t, byte(0x92), crc8([]byte{0xBE, 0xEF}))
}

func TestCollectConvertsFixedPoint(t *testing.T) {
	bus := newFake()
	d := New(bus)

	require.NoError(t, d.Trigger())
	require.Equal(t, []byte{cmdTrigger, 0x33, 0x00}, bus.writes[0])

	var s Sample
	require.NoError(t, d.Collect(&s))
	require.Equal(t, int32(250), s.DeciCelsius())
	require.Equal(t, int32(550), s.DeciRelHumidity())
}

func TestCollectWhileBusy(t *testing.T) {
	bus := newFake()
	bus.busyPolls = 2
	d := New(bus)
	require.NoError(t, d.Trigger())

	busy, err := d.Busy()
	require.NoError(t, err)
	require.True(t, busy)

	var s Sample
	require.ErrorIs(t, d.Collect(&s), ErrNotReady)
	require.NoError(t, d.Collect(&s))
}

func TestCollectRejectsBadCRC(t *testing.T) {
	bus := newFake()
	bus.badCRC = true
	var s Sample
	require.ErrorIs(t, New(bus).Collect(&s), ErrCRC)
}

func TestCollectUncalibrated(t *testing.T) {
	bus := newFake()
	bus.calib = false
	var s Sample
	require.ErrorIs(t, New(bus).Collect(&s), ErrProtocol)
}

func TestStartInitOnlyWhenNeeded(t *testing.T) {
	bus := newFake()
	d := New(bus)
	require.NoError(t, d.StartInit())
	require.Empty(t, bus.writes)

	bus.calib = false
	require.NoError(t, d.StartInit())
	require.Len(t, bus.writes, 1)
	require.Equal(t, byte(cmdInitialize), bus.writes[0][0])

	ok, err := d.Calibrated()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBusErrorPassesThrough(t *testing.T) {
	bus := newFake()
	bus.fail = errors.New("bus down")
	_, err := New(bus).Status()
	require.EqualError(t, err, "bus down")
}
