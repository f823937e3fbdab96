package dutycycle

import (
	"time"

	"fieldnode-go/services/metrics"
	"fieldnode-go/types"
	"fieldnode-go/x/timex"
)

// advance moves to the next present slot and asks the policy for the delay
// to the next measurement. A zero delay measures straight away.
func (c *Controller) advance() State {
	active := c.presentCount()
	sameRound := false
	if !c.ctx.LowBattery {
		if next, ok := c.nextPresent(c.ctx.Slot + 1); ok {
			sameRound = c.ctx.HasSlot && next > c.ctx.Slot
			c.ctx.Slot = next
		}
	}
	if !sameRound {
		c.endRound()
	}

	next := c.cfg.Policy(sameRound, c.cfg.Interval, active)
	if c.ctx.Sent {
		if gap := c.d.Radio.MinInterval(); gap > next {
			log.WithField("min", gap).Debug("interval stretched by radio duty cycle")
			next = gap
		}
	}
	c.ctx.Next = next
	log.WithField("slot", c.ctx.Slot).WithField("same_round", sameRound).WithField("next", next).Debug("advance")

	if next == 0 {
		c.ctx.Diag = c.carry
		c.carry = 0
		c.ctx.JoinAttempts = 0
		c.resetMeasurement()
		return StateSelectSlot
	}
	return StateSleepDecide
}

// endRound bumps the persisted round counter that paces gauge measurements.
func (c *Controller) endRound() {
	metrics.Rounds.Inc()
	w := c.battery()
	rounds := w.Rounds()
	if rounds < 0x7F {
		rounds++
	}
	c.setBattery(types.PackBattery(w.EOS(), w.VoltageMilliV(), w.MeasureActive(), rounds))
}

func (c *Controller) sleepDecide() State {
	if c.d.Power.USBAttached() && !c.cfg.ForceSleep {
		log.WithField("next", c.cfg.USBInterval).Info("usb attached, staying awake")
		c.beginWait(c.cfg.USBInterval)
		return StateStayAwake
	}

	elapsed := c.clock.Since(c.ctx.ActiveSince)
	d := timex.WholeSeconds(SleepDelay(c.ctx.Next, elapsed, c.cfg.SleepFloor))
	c.ctx.SleepFor = d
	if err := c.d.RTC.SetAlarm(d); err != nil {
		log.WithError(err).Error("arming wake alarm failed")
	}
	log.WithField("sleep", d).WithField("active", elapsed.Truncate(time.Millisecond)).Info("entering deep sleep")
	if c.obs.OnSleep != nil {
		c.obs.OnSleep(d)
	}
	if err := c.d.Power.EnterDeepSleep(); err != nil {
		log.WithError(err).Warn("deep sleep entry failed")
	}
	return StateSleep
}

// stayAwake waits out the USB re-measure period, then starts a new cycle.
func (c *Controller) stayAwake() (State, bool) {
	if !c.timedOut() {
		return StateStayAwake, true
	}
	c.endWait()
	c.ctx.Ev = Events{Wake: types.WakeUSB, USB: true}
	return StatePowerUp, false
}
