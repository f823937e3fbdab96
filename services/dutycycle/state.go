package dutycycle

// State is one step of the wake cycle.
type State uint8

const (
	StatePowerUp State = iota
	StateClassifyWake
	StateSelectSlot

	StateSensorPowerOn
	StateSensorInit
	StateSensorInitWait
	StateSensorStart
	StateSensorWait
	StateSensorRead
	StateSensorPowerOff

	StateGaugeCheck
	StateGaugeInitWait
	StateGaugeStart
	StateGaugeActiveWait
	StateGaugeMeasure

	StateSave
	StateJoin
	StateJoinWait
	StateSend
	StateSendWait

	StateAdvance
	StateSleepDecide
	StateStayAwake
	StateSleep

	numStates
)

var stateNames = [numStates]string{
	StatePowerUp:         "power_up",
	StateClassifyWake:    "classify_wake",
	StateSelectSlot:      "select_slot",
	StateSensorPowerOn:   "sensor_power_on",
	StateSensorInit:      "sensor_init",
	StateSensorInitWait:  "sensor_init_wait",
	StateSensorStart:     "sensor_start",
	StateSensorWait:      "sensor_wait",
	StateSensorRead:      "sensor_read",
	StateSensorPowerOff:  "sensor_power_off",
	StateGaugeCheck:      "gauge_check",
	StateGaugeInitWait:   "gauge_init_wait",
	StateGaugeStart:      "gauge_start",
	StateGaugeActiveWait: "gauge_active_wait",
	StateGaugeMeasure:    "gauge_measure",
	StateSave:            "save",
	StateJoin:            "join",
	StateJoinWait:        "join_wait",
	StateSend:            "send",
	StateSendWait:        "send_wait",
	StateAdvance:         "advance",
	StateSleepDecide:     "sleep_decide",
	StateStayAwake:       "stay_awake",
	StateSleep:           "sleep",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return "unknown"
}

// Waiting reports whether s polls a collaborator under a timeout.
func (s State) Waiting() bool {
	switch s {
	case StateSensorInitWait, StateSensorWait,
		StateGaugeInitWait, StateGaugeActiveWait,
		StateJoinWait, StateSendWait, StateStayAwake:
		return true
	}
	return false
}
