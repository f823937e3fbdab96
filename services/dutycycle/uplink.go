package dutycycle

import (
	"fieldnode-go/drivers/bkp"
	"fieldnode-go/errcode"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/metrics"
	"fieldnode-go/types"
)

// detectRejoin flags a forced rejoin when two wakes land within the window,
// which is how a user asks for one (reset twice in a row).
func (c *Controller) detectRejoin(now uint32) {
	last := c.d.Regs.Read(bkp.RegLastWakeup)
	c.d.Regs.Write(bkp.RegLastWakeup, now)
	if last == 0 || now < last {
		return
	}
	if uint64(now-last) < uint64(c.cfg.RejoinWindow.Seconds()) {
		log.WithField("gap_s", now-last).Info("rapid re-wake, forcing rejoin")
		bkp.WriteBool(c.d.Regs, bkp.RegRejoin, true)
	}
}

func (c *Controller) messageType() logstore.MessageType {
	switch {
	case c.ctx.LowBattery:
		return logstore.MsgLowBattery
	case c.ctx.HasSlot:
		return logstore.MsgMeasurement
	default:
		return logstore.MsgBattery
	}
}

func (c *Controller) controllerTemp() int8 {
	if c.d.Thermo == nil {
		return 0
	}
	t, err := c.d.Thermo.ReadDeciC()
	if err != nil {
		log.WithError(err).Debug("mcu temperature unavailable")
		return 0
	}
	return int8(t / 10)
}

func (c *Controller) save() State {
	rec := &c.ctx.Rec
	if c.ctx.LowBattery {
		rec.Sensor = logstore.SensorRecord{}
	}
	rec.Timestamp = c.ctx.Timestamp
	rec.ProtocolVersion = logstore.ProtocolVersion
	rec.Base = logstore.BaseRecord{
		MessageType:    c.messageType(),
		BatteryEOS:     c.battery().EOS(),
		GaugeTemp:      c.ctx.GaugeTemp,
		ControllerTemp: c.controllerTemp(),
		DiagnosticBits: c.ctx.Diag,
	}

	if err := c.d.Store.Append(rec); err != nil {
		// The round is still transmitted; the next record reports the loss.
		log.WithError(err).WithField("code", string(errcode.Of(err))).Error("record not saved")
		c.carry |= DiagStoreFailure
		c.ctx.Saved = false
	} else {
		c.ctx.Saved = true
		log.WithField("id", rec.ID).
			WithField("type", int(rec.Base.MessageType)).
			WithField("available", c.d.Store.CountAvailable()).
			Info("record saved")
	}
	if c.obs.OnRecord != nil {
		c.obs.OnRecord(*rec, c.ctx.Saved)
	}
	return StateJoin
}

func (c *Controller) join() State {
	rejoin := bkp.ReadBool(c.d.Regs, bkp.RegRejoin)
	if c.d.Radio.Joined() && !rejoin {
		return StateSend
	}
	if err := c.d.Radio.StartJoin(); err != nil {
		return c.joinFailed(err)
	}
	c.beginWait(c.cfg.JoinTimeout)
	return StateJoinWait
}

func (c *Controller) joinWait() (State, bool) {
	p := c.d.Radio.PollJoin()
	switch p.State {
	case types.Ready:
		c.endWait()
		bkp.WriteBool(c.d.Regs, bkp.RegRejoin, false)
		c.d.Regs.Write(bkp.RegJoinFailures, 0)
		log.Info("network joined")
		return StateSend, false
	case types.Failed:
		return c.joinFailed(p.Err), false
	}
	if c.timedOut() {
		return c.joinFailed(errcode.Timeout), false
	}
	return c.repoll(StateJoinWait)
}

// joinFailed retries up to JoinRetries per wake, then gives up on this
// uplink. The record stays in the log either way.
func (c *Controller) joinFailed(err error) State {
	c.endWait()
	metrics.RadioFailures.WithLabelValues("join").Inc()
	c.ctx.JoinAttempts++
	total := c.d.Regs.Read(bkp.RegJoinFailures) + 1
	c.d.Regs.Write(bkp.RegJoinFailures, total)
	entry := log.WithError(err).WithField("attempt", c.ctx.JoinAttempts).WithField("total", total)
	if c.ctx.JoinAttempts < c.cfg.JoinRetries {
		entry.Warn("join failed, retrying")
		return StateJoin
	}
	entry.Warn("join failed, giving up for this wake")
	c.carry |= DiagJoinGiveUp
	return StateAdvance
}

func (c *Controller) send() State {
	c.payload = c.ctx.Rec.AppendCore(c.payload[:0])
	if err := c.d.Radio.Send(c.payload); err != nil {
		metrics.RadioFailures.WithLabelValues("send").Inc()
		log.WithError(err).Warn("uplink rejected")
		return StateAdvance
	}
	c.beginWait(c.cfg.SendTimeout)
	return StateSendWait
}

func (c *Controller) sendWait() (State, bool) {
	p := c.d.Radio.PollReady()
	switch p.State {
	case types.RadioSent:
		c.endWait()
		c.ctx.Sent = true
		log.WithField("id", c.ctx.Rec.ID).WithField("status", p.Status).Debug("uplink sent")
		return StateAdvance, false
	case types.RadioFailed:
		c.endWait()
		metrics.RadioFailures.WithLabelValues("send").Inc()
		log.WithError(p.Err).Warn("uplink failed")
		return StateAdvance, false
	}
	if c.timedOut() {
		c.endWait()
		metrics.RadioFailures.WithLabelValues("send_timeout").Inc()
		log.Warn("uplink timed out")
		return StateAdvance, false
	}
	return c.repoll(StateSendWait)
}
