package dutycycle

import "time"

// Config tunes the cycle. Zero fields take the defaults from Normalize.
type Config struct {
	Interval    time.Duration // configured measurement period
	SleepFloor  time.Duration // minimum deep sleep
	USBInterval time.Duration // re-measure period while USB keeps the node awake
	ForceSleep  bool          // sleep even with USB attached

	GaugeEvery uint8 // rounds between battery gauge measurements

	PollEvery            time.Duration // re-poll period inside wait states
	SensorInitTimeout    time.Duration
	SensorMeasureTimeout time.Duration
	GaugeInitTimeout     time.Duration
	GaugeActiveTimeout   time.Duration
	JoinTimeout          time.Duration
	SendTimeout          time.Duration
	JoinRetries          uint8

	// RejoinWindow: two wakes closer than this force a network rejoin.
	RejoinWindow time.Duration

	Policy Policy
}

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.Interval, 10*time.Minute)
	def(&c.SleepFloor, MinSleep)
	def(&c.USBInterval, time.Minute)
	def(&c.PollEvery, 50*time.Millisecond)
	def(&c.SensorInitTimeout, 2*time.Second)
	def(&c.SensorMeasureTimeout, 5*time.Second)
	def(&c.GaugeInitTimeout, 2*time.Second)
	def(&c.GaugeActiveTimeout, 3*time.Second)
	def(&c.JoinTimeout, 30*time.Second)
	def(&c.SendTimeout, 10*time.Second)
	def(&c.RejoinWindow, 5*time.Second)
	if c.GaugeEvery == 0 {
		c.GaugeEvery = 24
	}
	if c.JoinRetries == 0 {
		c.JoinRetries = 3
	}
	if c.Policy == nil {
		c.Policy = DefaultPolicy
	}
}
