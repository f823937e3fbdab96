package node

import (
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/services/dutycycle"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/sched"
)

// dispatchWake turns latched RTC sources into a controller wake. Sources
// raised while a cycle runs stay latched and join the next wake.
func (n *Node) dispatchWake() {
	src := n.RTC.Pending()
	if src == 0 {
		return
	}
	if st := n.Ctrl.State(); st != dutycycle.StateSleep {
		log.WithField("wake", src.String()).WithField("state", st.String()).Debug("wake while awake deferred")
		return
	}
	n.Ctrl.Wake(n.RTC.WakeupSource())
}

// Exec queues fn to run on the scheduler, serialised with the controller.
func (n *Node) Exec(fn func()) {
	n.mu.Lock()
	n.console = append(n.console, fn)
	n.mu.Unlock()
	n.Sched.Request(sched.TaskConsole)
}

func (n *Node) runConsole() {
	n.mu.Lock()
	q := n.console
	n.console = nil
	n.mu.Unlock()
	for _, fn := range q {
		fn()
	}
}

// Erase wipes the log one block per scheduler pass. done is called after
// every step with the progress so far, and a final time with the result.
// Appends during the erase fail with errcode.Busy.
func (n *Node) Erase(done func(logstore.Progress, error)) {
	n.Exec(func() {
		if n.erase != nil {
			if done != nil {
				done(logstore.Progress{}, errcode.Busy)
			}
			return
		}
		n.erase = done
		if n.erase == nil {
			n.erase = func(logstore.Progress, error) {}
		}
		n.Sched.Request(sched.TaskStore)
	})
}

// eraseRetries bounds consecutive failures of one erase block.
const eraseRetries = 3

func (n *Node) eraseStep() {
	if n.erase == nil {
		return
	}
	p, err := n.Store.EraseStep()
	if err != nil {
		n.eraseFails++
		if n.eraseFails < eraseRetries {
			log.WithError(err).WithField("attempt", n.eraseFails).Warn("log erase step failed, retrying")
			n.Sched.Request(sched.TaskStore)
			return
		}
		log.WithError(err).Error("log erase failed, abandoning")
		if _, rerr := n.Store.AbortErase(); rerr != nil {
			log.WithError(rerr).Error("log recovery after failed erase")
		}
		n.erase(p, err)
		n.erase, n.eraseFails = nil, 0
		return
	}
	n.eraseFails = 0
	n.erase(p, nil)
	if p.Done() {
		log.WithField("blocks", p.Blocks).Info("log erased")
		n.erase = nil
		return
	}
	n.Sched.Request(sched.TaskStore)
}

// ---- controller observer ----

func (n *Node) onTransition(from, to dutycycle.State) {
	n.conn.Publish(&bus.Message{Topic: bus.TopicState, Payload: StateEvent{From: from, To: to}})
}

func (n *Node) onRecord(rec logstore.Record, saved bool) {
	n.conn.Publish(&bus.Message{Topic: bus.TopicRecord, Payload: RecordEvent{Record: rec, Saved: saved}, Retained: true})
}

func (n *Node) onSleep(d time.Duration) {
	n.mu.Lock()
	n.sleeps++
	n.mu.Unlock()
	n.conn.Publish(&bus.Message{Topic: bus.TopicSleep, Payload: d, Retained: true})
}
