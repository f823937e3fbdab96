// Package rtc is a host stand-in for the node's real-time clock: unix time
// that survives deep sleep, a one-shot wake alarm and the latched wake-up
// source register.
package rtc

import (
	"sync"
	"time"

	"fieldnode-go/types"
	"fieldnode-go/x/timex"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "rtc")

type Sim struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	offset time.Duration
	set    bool

	alarm   clockwork.Timer
	pending types.WakeupSource
	wake    chan struct{}
}

// NewSim returns an unset clock. Call Set (or SetFromHost) before relying on
// Now.
func NewSim(clock clockwork.Clock) *Sim {
	return &Sim{clock: clock, wake: make(chan struct{}, 1)}
}

// SetFromHost sets the clock to the host's wall time.
func (r *Sim) SetFromHost() {
	r.mu.Lock()
	r.offset, r.set = 0, true
	r.mu.Unlock()
}

func (r *Sim) Now() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		return 0, false
	}
	return timex.UnixSeconds(r.clock.Now().Add(r.offset)), true
}

func (r *Sim) Set(unix uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = timex.FromUnixSeconds(unix).Sub(r.clock.Now())
	r.set = true
	return nil
}

// SetAlarm replaces any pending alarm. When it fires it latches WakeAlarm.
func (r *Sim) SetAlarm(after time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alarm != nil {
		r.alarm.Stop()
	}
	r.alarm = r.clock.AfterFunc(after, func() { r.Raise(types.WakeAlarm) })
	log.WithField("after", after).Debug("alarm armed")
	return nil
}

// Raise latches src and signals Wakeups, like an interrupt line.
func (r *Sim) Raise(src types.WakeupSource) {
	r.mu.Lock()
	r.pending |= src
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// WakeupSource returns and clears the latched sources.
func (r *Sim) WakeupSource() types.WakeupSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.pending
	r.pending = 0
	return src
}

// Pending returns the latched sources without clearing them.
func (r *Sim) Pending() types.WakeupSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Wakeups signals after every Raise. Signals coalesce.
func (r *Sim) Wakeups() <-chan struct{} { return r.wake }

// PowerLoss forgets the time and any alarm, as a cold start does.
func (r *Sim) PowerLoss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.alarm != nil {
		r.alarm.Stop()
		r.alarm = nil
	}
	r.set, r.offset, r.pending = false, 0, 0
}
