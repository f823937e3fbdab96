package types

// ------------------------
// Radio link
// ------------------------

// RadioState tags the polled status of an uplink.
type RadioState uint8

const (
	RadioPending RadioState = iota
	RadioSent
	RadioFailed
)

// RadioPoll is the result of RadioLink.PollReady.
type RadioPoll struct {
	State  RadioState
	Status uint8 // link-specific status for Sent (e.g. ack flag)
	Err    error
}
