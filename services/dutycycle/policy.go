package dutycycle

import (
	"time"

	"fieldnode-go/x/mathx"
)

// MinSleep is the shortest deep sleep the node will schedule.
const MinSleep = 30 * time.Second

// Policy returns the delay until the next measurement.
// sameRound is true when the next slot belongs to the round just measured.
type Policy func(sameRound bool, interval time.Duration, activeSlots int) time.Duration

// Equalized spreads the slots evenly over the interval, one per wake.
func Equalized(_ bool, interval time.Duration, activeSlots int) time.Duration {
	if activeSlots <= 1 {
		return interval
	}
	return interval / time.Duration(activeSlots)
}

// Burst measures every slot back to back, then waits a whole interval.
func Burst(sameRound bool, interval time.Duration, _ int) time.Duration {
	if sameRound {
		return 0
	}
	return interval
}

// SleepDelay is the time left of interval after elapsed active time, never
// below floor.
func SleepDelay(interval, elapsed, floor time.Duration) time.Duration {
	return mathx.AtLeast(interval-elapsed, floor)
}
