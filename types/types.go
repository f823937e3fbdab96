package types

// ---- Wake-up sources ----

// WakeupSource is a bitfield of reasons the node left deep sleep.
type WakeupSource uint8

const (
	WakeAlarm WakeupSource = 1 << iota
	WakeLowBattery
	WakeUSB
	WakeSensorIRQ
	WakeLightSensor
	WakeReset
)

func (w WakeupSource) Has(flag WakeupSource) bool { return w&flag != 0 }

func (w WakeupSource) String() string {
	if w == 0 {
		return "none"
	}
	names := [...]string{"alarm", "low_battery", "usb", "sensor_irq", "light", "reset"}
	s := ""
	for i, n := range names {
		if w&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n
	}
	return s
}

// ---- Poll results ----

// PollState tags a Poll.
type PollState uint8

const (
	Pending PollState = iota
	Ready
	Failed
)

func (s PollState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Poll is the outcome of one non-blocking check of a long-running operation.
type Poll[T any] struct {
	State PollState
	Value T
	Err   error
}

func PollPending[T any]() Poll[T]         { return Poll[T]{State: Pending} }
func PollReady[T any](v T) Poll[T]        { return Poll[T]{State: Ready, Value: v} }
func PollFailed[T any](err error) Poll[T] { return Poll[T]{State: Failed, Err: err} }
