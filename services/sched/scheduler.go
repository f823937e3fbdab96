package sched

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "sched")

// Task is a task body. It must return without blocking; waiting is done by
// arming a timer and returning.
type Task func()

type Scheduler struct {
	clock   clockwork.Clock
	tasks   [numTasks]Task
	pending pendingSet

	mu     sync.Mutex
	timers timerHeap

	wake chan struct{}
}

// New returns a scheduler on clock (clockwork.NewRealClock() on devices,
// a fake clock in tests).
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, wake: make(chan struct{}, 1)}
}

func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Register installs the body for id, replacing any previous one.
func (s *Scheduler) Register(id TaskID, fn Task) {
	if !id.valid() {
		log.WithField("task", id).Warn("register: unknown task id")
		return
	}
	s.tasks[id] = fn
}

// Request marks id pending for the next Poll. Safe from any goroutine.
func (s *Scheduler) Request(id TaskID) {
	s.pending.add(id)
	s.wakeup()
}

// Pending returns a snapshot of requested tasks.
func (s *Scheduler) Pending() TaskSet { return s.pending.peek() }

// Poll fires due timers, then runs every pending task once in id order.
// Tasks requested while Poll runs are left for the next call. It returns the
// number of task bodies run.
func (s *Scheduler) Poll() int {
	s.fireDue(s.clock.Now())
	run := 0
	s.pending.take().Each(func(id TaskID) {
		fn := s.tasks[id]
		if fn == nil {
			return
		}
		fn()
		run++
	})
	return run
}

// Run polls until ctx is done. It wakes on every tick, on each Request and
// when the earliest timer falls due.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) {
	ticker := s.clock.NewTicker(tick)
	defer ticker.Stop()
	log.WithField("tick", tick).Debug("scheduler running")

	for {
		s.Poll()
		if !s.pending.peek().Empty() {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		var (
			due   <-chan time.Time
			timer clockwork.Timer
		)
		if d, ok := s.NextDue(); ok {
			timer = s.clock.NewTimer(d)
			due = timer.Chan()
		}
		select {
		case <-ctx.Done():
		case <-s.wake:
		case <-ticker.Chan():
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// NextDue is the time until the earliest armed timer.
func (s *Scheduler) NextDue() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.timers.top()
	if t == nil {
		return 0, false
	}
	d := t.due.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// fireDue pops every timer due at now, latching and requesting its owner.
// Periodic timers are re-armed one period after their previous due time,
// or after now if they fell behind.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	var fired []TaskID
	for {
		t := s.timers.top()
		if t == nil || t.due.After(now) {
			break
		}
		heap.Pop(&s.timers)
		t.expired.Store(true)
		fired = append(fired, t.owner)
		if t.mode == Periodic && t.period > 0 {
			next := t.due.Add(t.period)
			if !next.After(now) {
				next = now.Add(t.period)
			}
			t.due = next
			heap.Push(&s.timers, t)
		}
	}
	s.mu.Unlock()
	for _, id := range fired {
		s.pending.add(id)
	}
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
