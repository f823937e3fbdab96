// Package aht20 drives the AHT20 temperature/humidity sensor with a
// non-blocking two-phase API:
//
//	d.Trigger()          // start a conversion (fast)
//	err := d.Collect(&s) // ErrNotReady while the conversion runs
//
// Nothing in this package sleeps; callers poll from their own scheduler.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read when both
// w and r are provided, without releasing the bus.
//
// Values are fixed-point: tenths of °C and tenths of %RH.
package aht20

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

// ConversionTime is the nominal time from Trigger to a ready sample.
const ConversionTime = 80 * time.Millisecond

var (
	ErrNotReady = errors.New("aht20: not ready")
	ErrProtocol = errors.New("aht20: protocol error")
	ErrCRC      = errors.New("aht20: crc mismatch")
)

// Device wraps an I2C connection to an AHT20.
type Device struct {
	bus     drivers.I2C
	Address uint16

	buf [7]byte // reused to avoid allocations
}

// New creates a device handle; it does not touch the bus.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

// Status reads the status byte.
func (d *Device) Status() (byte, error) {
	data := d.buf[:1]
	if err := d.bus.Tx(d.Address, []byte{cmdStatus}, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// StartInit sends the calibration command unless the part reports it is
// already calibrated. Follow with Calibrated polls.
func (d *Device) StartInit() error {
	st, err := d.Status()
	if err == nil && st&statusCalibrated != 0 {
		return nil
	}
	return d.bus.Tx(d.Address, []byte{cmdInitialize, 0x08, 0x00}, nil)
}

// Calibrated reports whether initialisation has completed.
func (d *Device) Calibrated() (bool, error) {
	st, err := d.Status()
	if err != nil {
		return false, err
	}
	return st&statusCalibrated != 0 && st&statusBusy == 0, nil
}

// Reset issues a soft reset. Give the part ~20ms before using it again.
func (d *Device) Reset() error {
	return d.bus.Tx(d.Address, []byte{cmdSoftReset}, nil)
}

// Trigger starts a conversion.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.Address, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Busy reports whether a conversion is still running.
func (d *Device) Busy() (bool, error) {
	st, err := d.Status()
	if err != nil {
		return false, err
	}
	return st&statusBusy != 0, nil
}

// Collect reads a finished conversion into out.
func (d *Device) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.bus.Tx(d.Address, nil, data); err != nil {
		return err
	}
	if data[0]&statusBusy != 0 {
		return ErrNotReady
	}
	if data[0]&statusCalibrated == 0 {
		return ErrProtocol
	}
	if crc8(data[:6]) != data[6] {
		return ErrCRC
	}
	out.RawHumidity = (uint32(data[1]) << 12) | (uint32(data[2]) << 4) | (uint32(data[3]) >> 4)
	out.RawTemp = (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
	return nil
}

// Sample holds raw 20-bit readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

func (s Sample) DeciRelHumidity() int32 {
	return int32((uint64(s.RawHumidity) * 1000) >> 20)
}

func (s Sample) DeciCelsius() int32 {
	return int32((uint64(s.RawTemp)*2000)>>20) - 500
}

// crc8 is the sensor's CRC-8 (poly 0x31, init 0xFF).
func crc8(p []byte) byte {
	crc := byte(0xFF)
	for _, b := range p {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
