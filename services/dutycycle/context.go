package dutycycle

import (
	"time"

	"fieldnode-go/services/logstore"
	"fieldnode-go/types"
)

// Diagnostic bits carried in BaseRecord.DiagnosticBits.
const (
	DiagSensorError    uint8 = 1 << 0
	DiagGaugeTimeout   uint8 = 1 << 1
	DiagClockUnsynced  uint8 = 1 << 2
	DiagStoreFailure   uint8 = 1 << 3 // a previous append failed
	DiagJoinGiveUp     uint8 = 1 << 4 // a previous join was abandoned
	DiagLowBatteryWake uint8 = 1 << 5
)

// Events are the inputs latched when the node wakes.
type Events struct {
	Wake types.WakeupSource
	USB  bool
}

// Context is everything the state machine carries between steps.
type Context struct {
	State State
	Ev    Events

	Slot       int  // slot being measured, or next to measure
	HasSlot    bool // a slot was selected this measurement
	Measured   bool // Rec.Sensor holds a completed slot reading
	LowBattery bool

	ActiveSince  time.Time
	Timestamp    uint32
	Diag         uint8
	GaugeTemp    int8
	JoinAttempts uint8
	Sent         bool

	Rec   logstore.Record
	Saved bool

	Next     time.Duration // delay chosen by the policy at Advance
	SleepFor time.Duration // delay handed to the RTC alarm
}

// Outcome summarises one Step.
type Outcome struct {
	State       State
	Transitions int
	Waiting     bool
	Asleep      bool
	SleepFor    time.Duration
}
