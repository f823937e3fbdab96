package dutycycle

import (
	"time"

	"fieldnode-go/drivers/bkp"
	"fieldnode-go/services/logstore"
	"fieldnode-go/types"
)

// SensorBus drives the pluggable sensor modules. Slots are 0..MaxSlots-1.
// Start* calls return quickly; progress is observed through the Poll* calls.
type SensorBus interface {
	Present(slot int) bool
	SetPower(slot int, on bool) error
	// StartInit returns errcode.Unsupported for modules without an init phase.
	StartInit(slot int) error
	PollInit(slot int) types.Poll[types.SensorStatus]
	StartMeasurement(slot int) error
	PollStatus(slot int) types.Poll[types.SensorStatus]
	ReadResult(slot int) (types.SensorResult, error)
}

// BatteryGauge is the end-of-service gauge.
type BatteryGauge interface {
	Enable() error
	PollInit() types.Poll[struct{}]
	StartGauge() error
	PollActive() types.Poll[struct{}]
	Measure() (types.GaugeReading, error)
	Disable() error
}

// RadioLink is the uplink. MinInterval is the spacing the link's duty-cycle
// rules impose between uplinks, 0 when unrestricted.
type RadioLink interface {
	Joined() bool
	StartJoin() error
	PollJoin() types.Poll[struct{}]
	Send(payload []byte) error
	PollReady() types.RadioPoll
	MinInterval() time.Duration
}

// RTC keeps wall time across deep sleep and wakes the node.
type RTC interface {
	// Now returns unix seconds and whether the clock has been set.
	Now() (uint32, bool)
	Set(unix uint32) error
	SetAlarm(after time.Duration) error
}

// Power reports supply state and enters deep sleep.
type Power interface {
	USBAttached() bool
	EnterDeepSleep() error
}

// Thermometer is the MCU's internal temperature sensor.
type Thermometer interface {
	ReadDeciC() (int16, error)
}

// Store is the part of the measurement log the controller uses.
type Store interface {
	Recover() (logstore.RecoveredCursor, error)
	Append(rec *logstore.Record) error
	Latest() (logstore.Record, error)
	CountAvailable() uint32
}

// Deps bundles the collaborators. Thermo may be nil.
type Deps struct {
	Sensors SensorBus
	Gauge   BatteryGauge
	Radio   RadioLink
	RTC     RTC
	Power   Power
	Thermo  Thermometer
	Store   Store
	Regs    bkp.Registers
}
