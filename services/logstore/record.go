package logstore

import (
	"encoding/binary"

	"fieldnode-go/types"
)

// Packed little-endian record layout. Offsets are fixed; the page tail after
// CoreSize is left erased.
const (
	offID          = 0
	offTimestamp   = 4
	offProtocol    = 8
	offSlot        = 9
	offTypeID      = 10
	offProtocolID  = 12
	offDataSize    = 13
	offData        = 14
	offCRC         = offData + types.MaxSensorData // 50
	offMessageType = offCRC + 2                    // 52
	offEOS         = 53
	offGaugeTemp   = 54
	offCtrlTemp    = 55
	offDiag        = 56
	offBaseSpare   = 57

	// CoreSize is the packed size of a record without page padding.
	CoreSize = offBaseSpare + 4 // 61
)

// ProtocolVersion is written into every record this firmware produces.
const ProtocolVersion = 2

// emptyID is what an erased id field reads as.
const emptyID = 0xFFFFFFFF

// MessageType classifies the base sub-record.
type MessageType uint8

const (
	MsgMeasurement MessageType = 1 // sensor slot data plus battery data
	MsgBattery     MessageType = 2 // no sensor slot measured this round
	MsgLowBattery  MessageType = 3 // written after a low-battery wake
)

// SensorRecord is the slot measurement part of a record.
type SensorRecord struct {
	Slot       uint8
	TypeID     uint16
	ProtocolID uint8
	DataSize   uint8
	Data       [types.MaxSensorData]byte
}

// Payload returns the CRC-covered part of Data.
func (s *SensorRecord) Payload() []byte {
	if int(s.DataSize) > len(s.Data) {
		return s.Data[:]
	}
	return s.Data[:s.DataSize]
}

// BaseRecord carries the node's own state for the round.
type BaseRecord struct {
	MessageType    MessageType
	BatteryEOS     uint8
	GaugeTemp      int8
	ControllerTemp int8
	DiagnosticBits uint8
	Spare          [4]byte
}

// Record is one immutable measurement as stored in one flash page.
type Record struct {
	ID              uint32
	Timestamp       uint32
	ProtocolVersion uint8
	Sensor          SensorRecord
	CRC             uint16
	Base            BaseRecord
}

// SensorCRC computes the checksum over Sensor.Data[0:DataSize].
func (r *Record) SensorCRC() uint16 { return CRC16(r.Sensor.Payload()) }

// PutCore writes the packed record into dst[:CoreSize].
func (r *Record) PutCore(dst []byte) {
	le := binary.LittleEndian
	le.PutUint32(dst[offID:], r.ID)
	le.PutUint32(dst[offTimestamp:], r.Timestamp)
	dst[offProtocol] = r.ProtocolVersion
	dst[offSlot] = r.Sensor.Slot
	le.PutUint16(dst[offTypeID:], r.Sensor.TypeID)
	dst[offProtocolID] = r.Sensor.ProtocolID
	dst[offDataSize] = r.Sensor.DataSize
	copy(dst[offData:offCRC], r.Sensor.Data[:])
	le.PutUint16(dst[offCRC:], r.CRC)
	dst[offMessageType] = byte(r.Base.MessageType)
	dst[offEOS] = r.Base.BatteryEOS
	dst[offGaugeTemp] = byte(r.Base.GaugeTemp)
	dst[offCtrlTemp] = byte(r.Base.ControllerTemp)
	dst[offDiag] = r.Base.DiagnosticBits
	copy(dst[offBaseSpare:CoreSize], r.Base.Spare[:])
}

// MarshalPage writes the record into a whole page, padding with 0xFF.
func (r *Record) MarshalPage(page []byte) {
	r.PutCore(page)
	for i := CoreSize; i < len(page); i++ {
		page[i] = 0xFF
	}
}

// AppendCore appends the packed record to dst; used for uplinks.
func (r *Record) AppendCore(dst []byte) []byte {
	var b [CoreSize]byte
	r.PutCore(b[:])
	return append(dst, b[:]...)
}

// DecodeRecord parses the packed form. src must hold at least CoreSize bytes.
func DecodeRecord(src []byte) (Record, bool) {
	var r Record
	if len(src) < CoreSize {
		return r, false
	}
	le := binary.LittleEndian
	r.ID = le.Uint32(src[offID:])
	r.Timestamp = le.Uint32(src[offTimestamp:])
	r.ProtocolVersion = src[offProtocol]
	r.Sensor.Slot = src[offSlot]
	r.Sensor.TypeID = le.Uint16(src[offTypeID:])
	r.Sensor.ProtocolID = src[offProtocolID]
	r.Sensor.DataSize = src[offDataSize]
	copy(r.Sensor.Data[:], src[offData:offCRC])
	r.CRC = le.Uint16(src[offCRC:])
	r.Base.MessageType = MessageType(src[offMessageType])
	r.Base.BatteryEOS = src[offEOS]
	r.Base.GaugeTemp = int8(src[offGaugeTemp])
	r.Base.ControllerTemp = int8(src[offCtrlTemp])
	r.Base.DiagnosticBits = src[offDiag]
	copy(r.Base.Spare[:], src[offBaseSpare:CoreSize])
	return r, true
}
