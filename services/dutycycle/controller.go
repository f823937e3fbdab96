// Package dutycycle is the node's wake cycle: classify the wake, measure the
// next sensor slot, gauge the battery when due, log and transmit the record,
// then pick the next wake and go back to deep sleep.
//
// The controller is a non-blocking state machine run as a scheduler task.
// Each Step runs transitions until a state has to wait; a wait arms a poll
// timer and a timeout, and a timeout always moves the machine on.
package dutycycle

import (
	"time"

	"fieldnode-go/services/logstore"
	"fieldnode-go/services/sched"
	"fieldnode-go/types"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "dutycycle")

// maxTransitions bounds one Step; a longer chain continues on the next pass.
const maxTransitions = 64

// Observer receives notifications from the controller task. Callbacks must
// not block.
type Observer struct {
	OnTransition func(from, to State)
	OnRecord     func(rec logstore.Record, saved bool)
	OnSleep      func(d time.Duration)
}

type Controller struct {
	cfg   Config
	d     Deps
	s     *sched.Scheduler
	clock clockwork.Clock
	obs   Observer

	poll    *sched.Timer
	timeout *sched.Timer

	ctx       Context
	recovered bool
	carry     uint8 // diagnostic bits for the next record
	payload   []byte
}

// New builds a controller and registers it as sched.TaskController.
// It stays idle until Wake.
func New(cfg Config, d Deps, s *sched.Scheduler) *Controller {
	cfg.Normalize()
	c := &Controller{
		cfg:     cfg,
		d:       d,
		s:       s,
		clock:   s.Clock(),
		poll:    s.NewTimer(sched.TaskController),
		timeout: s.NewTimer(sched.TaskController),
		payload: make([]byte, 0, logstore.CoreSize),
	}
	c.ctx.State = StateSleep
	s.Register(sched.TaskController, func() { c.Step() })
	return c
}

// Observe installs o. Call before Wake.
func (c *Controller) Observe(o Observer) { c.obs = o }

// Context returns a copy of the controller state.
func (c *Controller) Context() Context { return c.ctx }

func (c *Controller) State() State { return c.ctx.State }

func (c *Controller) Config() Config { return c.cfg }

// Wake starts a cycle for src. It is how the node leaves StateSleep.
func (c *Controller) Wake(src types.WakeupSource) {
	c.endWait()
	c.ctx.Ev = Events{Wake: src, USB: c.d.Power.USBAttached()}
	c.setState(StatePowerUp)
	c.s.Request(sched.TaskController)
}

// Step runs transitions until the machine waits or sleeps.
func (c *Controller) Step() Outcome {
	var out Outcome
	for i := 0; i < maxTransitions; i++ {
		from := c.ctx.State
		to, wait := c.handle(from)
		if to != from {
			out.Transitions++
			c.setState(to)
		}
		if wait || to == StateSleep {
			out.State = to
			out.Waiting = wait && to != StateSleep
			out.Asleep = to == StateSleep
			out.SleepFor = c.ctx.SleepFor
			return out
		}
	}
	out.State = c.ctx.State
	c.s.Request(sched.TaskController)
	return out
}

func (c *Controller) setState(to State) {
	from := c.ctx.State
	c.ctx.State = to
	log.WithField("from", from.String()).WithField("to", to.String()).Debug("transition")
	if c.obs.OnTransition != nil {
		c.obs.OnTransition(from, to)
	}
}

// handle runs one state and returns the next one and whether it must wait.
func (c *Controller) handle(s State) (State, bool) {
	switch s {
	case StatePowerUp:
		return c.powerUp(), false
	case StateClassifyWake:
		return c.classifyWake(), false
	case StateSelectSlot:
		return c.selectSlot(), false
	case StateSensorPowerOn:
		return c.sensorPowerOn(), false
	case StateSensorInit:
		return c.sensorInit(), false
	case StateSensorInitWait:
		return c.sensorInitWait()
	case StateSensorStart:
		return c.sensorStart(), false
	case StateSensorWait:
		return c.sensorWait()
	case StateSensorRead:
		return c.sensorRead(), false
	case StateSensorPowerOff:
		return c.sensorPowerOff(), false
	case StateGaugeCheck:
		return c.gaugeCheck(), false
	case StateGaugeInitWait:
		return c.gaugeInitWait()
	case StateGaugeStart:
		return c.gaugeStart(), false
	case StateGaugeActiveWait:
		return c.gaugeActiveWait()
	case StateGaugeMeasure:
		return c.gaugeMeasure(), false
	case StateSave:
		return c.save(), false
	case StateJoin:
		return c.join(), false
	case StateJoinWait:
		return c.joinWait()
	case StateSend:
		return c.send(), false
	case StateSendWait:
		return c.sendWait()
	case StateAdvance:
		return c.advance(), false
	case StateSleepDecide:
		return c.sleepDecide(), false
	case StateStayAwake:
		return c.stayAwake()
	case StateSleep:
		return StateSleep, true
	default:
		log.WithField("state", uint8(s)).Error("unknown state, scheduling sleep")
		c.endWait()
		return StateSleepDecide, false
	}
}

// --- wait helpers ---

func (c *Controller) beginWait(d time.Duration) {
	c.poll.Cancel()
	c.poll.Clear()
	c.timeout.Arm(d, sched.OneShot)
}

// repoll keeps the current state and asks to be run again shortly.
func (c *Controller) repoll(s State) (State, bool) {
	c.poll.Arm(c.cfg.PollEvery, sched.OneShot)
	return s, true
}

func (c *Controller) timedOut() bool { return c.timeout.Expired() }

func (c *Controller) endWait() {
	c.poll.Cancel()
	c.poll.Clear()
	c.timeout.Cancel()
	c.timeout.Clear()
}

// --- wake ---

func (c *Controller) powerUp() State {
	if !c.recovered {
		rc, err := c.d.Store.Recover()
		if err != nil {
			log.WithError(err).Error("log recovery failed")
			c.carry |= DiagStoreFailure
		} else {
			c.recovered = true
			log.WithField("next", rc.NextID).WithField("source", rc.Source.String()).Info("log ready")
		}
	}
	c.ctx.ActiveSince = c.clock.Now()
	c.ctx.Diag = c.carry
	c.carry = 0
	c.ctx.JoinAttempts = 0
	c.ctx.LowBattery = false
	c.resetMeasurement()
	return StateClassifyWake
}

func (c *Controller) resetMeasurement() {
	c.ctx.Rec = logstore.Record{}
	c.ctx.HasSlot = false
	c.ctx.Measured = false
	c.ctx.Saved = false
	c.ctx.Sent = false
	c.ctx.GaugeTemp = 0
	c.ctx.Next = 0
	c.ctx.SleepFor = 0
}

func (c *Controller) classifyWake() State {
	src := c.ctx.Ev.Wake
	now, ok := c.d.RTC.Now()
	restored := false

	if src.Has(types.WakeLowBattery) || !ok {
		if rec, err := c.d.Store.Latest(); err == nil && rec.Timestamp != 0 && (!ok || rec.Timestamp > now) {
			if err := c.d.RTC.Set(rec.Timestamp); err != nil {
				log.WithError(err).Warn("restoring clock from log failed")
			} else {
				now, ok, restored = rec.Timestamp, true, true
				log.WithField("unix", now).Info("clock restored from latest record")
			}
		}
	}
	if !ok {
		now = 0
		c.ctx.Diag |= DiagClockUnsynced
	}
	c.ctx.Timestamp = now

	if ok && !restored {
		c.detectRejoin(now)
	}

	log.WithField("wake", src.String()).WithField("usb", c.ctx.Ev.USB).Info("wake")
	if src.Has(types.WakeLowBattery) {
		c.ctx.LowBattery = true
		c.ctx.Diag |= DiagLowBatteryWake
		return StateGaugeCheck
	}
	return StateSelectSlot
}
