package types

// ------------------------
// Battery gauge
// ------------------------

// GaugeReading is one end-of-service measurement.
type GaugeReading struct {
	VoltageMilliV uint16
	CurrentMilliA int16
	SOH           uint8 // state of health / EOS indicator, percent
	TempDeciC     int16
}

// EOS maps the reading to the one-byte indicator stored in records.
func (g GaugeReading) EOS() uint8 {
	if g.SOH > 100 {
		return 100
	}
	return g.SOH
}

// BatteryWord is the packed battery backup register:
//
//	bits 0..7   EOS percent
//	bits 8..23  voltage, mV
//	bit  24     measure active
//	bits 25..31 rounds since last gauge measurement
type BatteryWord uint32

func PackBattery(eos uint8, milliV uint16, active bool, rounds uint8) BatteryWord {
	w := uint32(eos) | uint32(milliV)<<8 | uint32(rounds&0x7F)<<25
	if active {
		w |= 1 << 24
	}
	return BatteryWord(w)
}

func (w BatteryWord) EOS() uint8            { return uint8(w) }
func (w BatteryWord) VoltageMilliV() uint16 { return uint16(w >> 8) }
func (w BatteryWord) MeasureActive() bool   { return w&(1<<24) != 0 }
func (w BatteryWord) Rounds() uint8         { return uint8(w>>25) & 0x7F }
