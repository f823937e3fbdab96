// Package bq35100 is a minimal TinyGo driver for the TI BQ35100 primary-cell
// end-of-service gauge.
//
// Design notes (datasheet references):
//   - I2C, standard commands are little-endian words: data-low then data-high.
//   - Default 7-bit address = 0x55.
//   - Control() subcommands are written to 0x00/0x01 and their result read back
//     from 0x00.
//   - The part is powered through its GE pin; gauging only runs between
//     GAUGE_START and GAUGE_STOP.
//   - Integer-only telemetry (mV, mA, 0.1 K, percent).
package bq35100

import (
	"errors"

	"tinygo.org/x/drivers"
)

var (
	ErrNotInitialised = errors.New("bq35100: initialisation not complete")
	ErrDeviceType     = errors.New("bq35100: unexpected device type")
)

// PinOutput drives the gauge-enable line. Nil means GE is strapped high.
type PinOutput func(high bool)

type Config struct {
	Address uint16
	Enable  PinOutput
}

type Device struct {
	i2c    drivers.I2C
	addr   uint16
	enable PinOutput

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

func New(i2c drivers.I2C, cfg Config) *Device {
	addr := cfg.Address
	if addr == 0 {
		addr = AddressDefault
	}
	return &Device{i2c: i2c, addr: addr, enable: cfg.Enable}
}

// Reading is one gauge snapshot.
type Reading struct {
	MilliVolts uint16
	MilliAmps  int16
	SOH        uint8 // percent
	DeciC      int16
}

// ---------------- Power and gauging control ----------------

// Enable raises GE. The gauge needs INITCOMP before it accepts commands.
func (d *Device) Enable() {
	if d.enable != nil {
		d.enable(true)
	}
}

// Disable stops gauging and drops GE.
func (d *Device) Disable() error {
	err := d.control(SubGaugeStop)
	if d.enable != nil {
		d.enable(false)
	}
	return err
}

// InitComplete reports the INITCOMP status flag.
func (d *Device) InitComplete() (bool, error) {
	st, err := d.ControlStatus()
	if err != nil {
		return false, err
	}
	return st&StatusInitComp != 0, nil
}

// CheckDeviceType confirms the part answers as a BQ35100.
func (d *Device) CheckDeviceType() error {
	v, err := d.controlRead(SubDeviceType)
	if err != nil {
		return err
	}
	if v != DeviceType {
		return ErrDeviceType
	}
	return nil
}

// StartGauge issues GAUGE_START. Poll GaugeActive before measuring.
func (d *Device) StartGauge() error {
	ok, err := d.InitComplete()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialised
	}
	return d.control(SubGaugeStart)
}

// GaugeActive reports the GA status flag.
func (d *Device) GaugeActive() (bool, error) {
	st, err := d.ControlStatus()
	if err != nil {
		return false, err
	}
	return st&StatusGaugeActive != 0, nil
}

func (d *Device) ControlStatus() (uint16, error) {
	return d.controlRead(SubControlStatus)
}

// ---------------- Telemetry ----------------

func (d *Device) VoltageMilliV() (uint16, error) { return d.readWord(CmdVoltage) }

func (d *Device) CurrentMilliA() (int16, error) { return d.readS16(CmdCurrent) }

func (d *Device) StateOfHealth() (uint8, error) {
	v, err := d.readWord(CmdStateOfHealth)
	if err != nil {
		return 0, err
	}
	if v > 100 {
		v = 100
	}
	return uint8(v), nil
}

// TemperatureDeciC converts the 0.1 K register to tenths of °C.
func (d *Device) TemperatureDeciC() (int16, error) {
	v, err := d.readWord(CmdTemperature)
	if err != nil {
		return 0, err
	}
	return int16(int32(v) - kelvinOffsetDeci), nil
}

// Measure reads voltage, current, state of health and temperature.
func (d *Device) Measure() (Reading, error) {
	var out Reading
	var err error
	if out.MilliVolts, err = d.VoltageMilliV(); err != nil {
		return Reading{}, err
	}
	if out.MilliAmps, err = d.CurrentMilliA(); err != nil {
		return Reading{}, err
	}
	if out.SOH, err = d.StateOfHealth(); err != nil {
		return Reading{}, err
	}
	if out.DeciC, err = d.TemperatureDeciC(); err != nil {
		return Reading{}, err
	}
	return out, nil
}
