package dutycycle

import (
	"errors"
	"strconv"

	"fieldnode-go/drivers/bkp"
	"fieldnode-go/errcode"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/metrics"
	"fieldnode-go/types"
)

// --- sensor slots ---

func (c *Controller) presentCount() int {
	n := 0
	for i := 0; i < types.MaxSlots; i++ {
		if c.d.Sensors.Present(i) {
			n++
		}
	}
	return n
}

// nextPresent returns the first present slot at or after from, cyclically.
func (c *Controller) nextPresent(from int) (int, bool) {
	for i := 0; i < types.MaxSlots; i++ {
		s := (from + i) % types.MaxSlots
		if c.d.Sensors.Present(s) {
			return s, true
		}
	}
	return 0, false
}

func (c *Controller) selectSlot() State {
	slot, ok := c.nextPresent(c.ctx.Slot)
	if !ok {
		log.Debug("no sensor modules present")
		c.ctx.Rec.Sensor = logstore.SensorRecord{}
		return StateGaugeCheck
	}
	c.ctx.Slot = slot
	c.ctx.HasSlot = true
	c.ctx.Rec.Sensor = logstore.SensorRecord{Slot: uint8(slot)}
	return StateSensorPowerOn
}

// slotFailed degrades the slot's record to an empty reading.
func (c *Controller) slotFailed(stage string, err error) State {
	slot := c.ctx.Slot
	log.WithField("slot", slot).WithField("stage", stage).WithError(err).Warn("sensor degraded")
	metrics.SensorErrors.WithLabelValues(strconv.Itoa(slot)).Inc()
	c.ctx.Rec.Sensor = logstore.SensorRecord{Slot: uint8(slot)}
	c.ctx.Measured = false
	c.ctx.Diag |= DiagSensorError
	c.endWait()
	return StateSensorPowerOff
}

func (c *Controller) sensorPowerOn() State {
	if err := c.d.Sensors.SetPower(c.ctx.Slot, true); err != nil {
		return c.slotFailed("power", err)
	}
	return StateSensorInit
}

func (c *Controller) sensorInit() State {
	err := c.d.Sensors.StartInit(c.ctx.Slot)
	switch {
	case err == nil:
		c.beginWait(c.cfg.SensorInitTimeout)
		return StateSensorInitWait
	case errors.Is(err, errcode.Unsupported):
		return StateSensorStart
	default:
		return c.slotFailed("init", err)
	}
}

func (c *Controller) sensorInitWait() (State, bool) {
	p := c.d.Sensors.PollInit(c.ctx.Slot)
	switch p.State {
	case types.Ready:
		c.endWait()
		if p.Value == types.SensorNotAvailable || p.Value == types.SensorFailed {
			return c.slotFailed("init", errcode.New(errcode.SensorBus, "sensor.init", p.Value.String())), false
		}
		return StateSensorStart, false
	case types.Failed:
		return c.slotFailed("init", p.Err), false
	}
	if c.timedOut() {
		return c.slotFailed("init", errcode.Timeout), false
	}
	return c.repoll(StateSensorInitWait)
}

func (c *Controller) sensorStart() State {
	if err := c.d.Sensors.StartMeasurement(c.ctx.Slot); err != nil {
		return c.slotFailed("start", err)
	}
	c.beginWait(c.cfg.SensorMeasureTimeout)
	return StateSensorWait
}

func (c *Controller) sensorWait() (State, bool) {
	p := c.d.Sensors.PollStatus(c.ctx.Slot)
	switch p.State {
	case types.Ready:
		c.endWait()
		if p.Value != types.SensorDone {
			return c.slotFailed("measure", errcode.New(errcode.SensorBus, "sensor.measure", p.Value.String())), false
		}
		return StateSensorRead, false
	case types.Failed:
		return c.slotFailed("measure", p.Err), false
	}
	if c.timedOut() {
		return c.slotFailed("measure", errcode.Timeout), false
	}
	return c.repoll(StateSensorWait)
}

func (c *Controller) sensorRead() State {
	res, err := c.d.Sensors.ReadResult(c.ctx.Slot)
	if err != nil {
		return c.slotFailed("read", err)
	}
	s := &c.ctx.Rec.Sensor
	s.Slot = uint8(c.ctx.Slot)
	s.TypeID = res.TypeID
	s.ProtocolID = res.ProtocolID
	s.DataSize = uint8(copy(s.Data[:], res.Payload()))
	c.ctx.Measured = true
	return StateSensorPowerOff
}

func (c *Controller) sensorPowerOff() State {
	if err := c.d.Sensors.SetPower(c.ctx.Slot, false); err != nil {
		log.WithField("slot", c.ctx.Slot).WithError(err).Warn("sensor power off failed")
	}
	return StateGaugeCheck
}

// --- battery gauge ---

func (c *Controller) battery() types.BatteryWord {
	return types.BatteryWord(c.d.Regs.Read(bkp.RegBattery))
}

func (c *Controller) setBattery(w types.BatteryWord) {
	c.d.Regs.Write(bkp.RegBattery, uint32(w))
}

// gaugeDue: an interrupted measurement, a full cadence of rounds, or no
// measurement ever taken.
func (c *Controller) gaugeDue(w types.BatteryWord) bool {
	never := w.EOS() == 0 && w.VoltageMilliV() == 0
	return w.MeasureActive() || never || w.Rounds() >= c.cfg.GaugeEvery
}

func (c *Controller) gaugeCheck() State {
	w := c.battery()
	if !c.gaugeDue(w) {
		return StateSave
	}
	c.setBattery(types.PackBattery(w.EOS(), w.VoltageMilliV(), true, w.Rounds()))
	if err := c.d.Gauge.Enable(); err != nil {
		c.gaugeDegraded("enable", err)
		return StateGaugeMeasure
	}
	c.beginWait(c.cfg.GaugeInitTimeout)
	return StateGaugeInitWait
}

// gaugeDegraded records a gauge problem; the cycle continues best-effort.
func (c *Controller) gaugeDegraded(stage string, err error) {
	log.WithField("stage", stage).WithError(err).Warn("gauge degraded")
	c.ctx.Diag |= DiagGaugeTimeout
	c.endWait()
}

func (c *Controller) gaugeInitWait() (State, bool) {
	p := c.d.Gauge.PollInit()
	switch p.State {
	case types.Ready:
		c.endWait()
		return StateGaugeStart, false
	case types.Failed:
		c.gaugeDegraded("init", p.Err)
		return StateGaugeMeasure, false
	}
	if c.timedOut() {
		c.gaugeDegraded("init", errcode.Timeout)
		return StateGaugeMeasure, false
	}
	return c.repoll(StateGaugeInitWait)
}

func (c *Controller) gaugeStart() State {
	if err := c.d.Gauge.StartGauge(); err != nil {
		c.gaugeDegraded("start", err)
		return StateGaugeMeasure
	}
	c.beginWait(c.cfg.GaugeActiveTimeout)
	return StateGaugeActiveWait
}

func (c *Controller) gaugeActiveWait() (State, bool) {
	p := c.d.Gauge.PollActive()
	switch p.State {
	case types.Ready:
		c.endWait()
		return StateGaugeMeasure, false
	case types.Failed:
		c.gaugeDegraded("active", p.Err)
		return StateGaugeMeasure, false
	}
	if c.timedOut() {
		c.gaugeDegraded("active", errcode.Timeout)
		return StateGaugeMeasure, false
	}
	return c.repoll(StateGaugeActiveWait)
}

func (c *Controller) gaugeMeasure() State {
	w := c.battery()
	r, err := c.d.Gauge.Measure()
	if derr := c.d.Gauge.Disable(); derr != nil {
		log.WithError(derr).Warn("gauge disable failed")
	}
	if err != nil {
		// Keep the last good values; the cadence stays due so the next wake retries.
		c.gaugeDegraded("measure", err)
		c.setBattery(types.PackBattery(w.EOS(), w.VoltageMilliV(), false, w.Rounds()))
		return StateSave
	}
	c.ctx.GaugeTemp = int8(r.TempDeciC / 10)
	c.setBattery(types.PackBattery(r.EOS(), r.VoltageMilliV, false, 0))
	log.WithField("eos", r.EOS()).WithField("mv", r.VoltageMilliV).Info("battery measured")
	return StateSave
}
