package types

// ------------------------
// Sensor slots
// ------------------------

// MaxSlots is the number of pluggable sensor module slots.
const MaxSlots = 6

// MaxSensorData is the payload capacity of one sensor sub-record.
const MaxSensorData = 36

// SensorStatus is the polled state of a slot operation (init or measurement).
type SensorStatus uint8

const (
	SensorActive SensorStatus = iota
	SensorDone
	SensorFailed
	SensorNotAvailable
)

func (s SensorStatus) String() string {
	switch s {
	case SensorActive:
		return "active"
	case SensorDone:
		return "done"
	case SensorFailed:
		return "failed"
	case SensorNotAvailable:
		return "not_available"
	default:
		return "unknown"
	}
}

// SensorResult is what a module returns after a completed measurement.
type SensorResult struct {
	TypeID     uint16
	ProtocolID uint8
	Size       uint8
	Data       [MaxSensorData]byte
}

// Payload returns the used part of Data.
func (r *SensorResult) Payload() []byte {
	n := int(r.Size)
	if n > MaxSensorData {
		n = MaxSensorData
	}
	return r.Data[:n]
}

// SetPayload copies p into Data, truncating to capacity.
func (r *SensorResult) SetPayload(p []byte) {
	n := copy(r.Data[:], p)
	r.Size = uint8(n)
}

// Temperature/humidity payload used by climate modules (tenths of unit).
type ClimateValue struct {
	DeciC  int16
	DeciRH uint16
}
