package sched

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Mode selects one-shot or periodic re-arming.
type Mode uint8

const (
	OneShot Mode = iota
	Periodic
)

// Timer is a software timer owned by one task. Expiry latches Expired and
// requests the owner; the owner clears the latch when it consumes it.
type Timer struct {
	s     *Scheduler
	owner TaskID

	// guarded by s.mu
	due    time.Time
	period time.Duration
	mode   Mode
	index  int

	expired atomic.Bool
}

// NewTimer returns a disarmed timer whose expiry requests owner.
func (s *Scheduler) NewTimer(owner TaskID) *Timer {
	return &Timer{s: s, owner: owner, index: -1}
}

// Arm (re)starts the timer to expire after d and clears a pending expiry.
// A non-positive d expires on the next Poll.
func (t *Timer) Arm(d time.Duration, mode Mode) {
	if d < 0 {
		d = 0
	}
	s := t.s
	s.mu.Lock()
	t.due = s.clock.Now().Add(d)
	t.period = d
	t.mode = mode
	t.expired.Store(false)
	if t.index >= 0 {
		heap.Fix(&s.timers, t.index)
	} else {
		heap.Push(&s.timers, t)
	}
	s.mu.Unlock()
	s.wakeup()
}

// Cancel disarms the timer. A latched expiry is left for Clear.
func (t *Timer) Cancel() {
	s := t.s
	s.mu.Lock()
	if t.index >= 0 {
		heap.Remove(&s.timers, t.index)
	}
	s.mu.Unlock()
}

func (t *Timer) Expired() bool { return t.expired.Load() }
func (t *Timer) Clear()        { t.expired.Store(false) }

// Armed reports whether the timer is waiting to fire.
func (t *Timer) Armed() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.index >= 0
}

// Remaining is the time left until expiry, 0 when disarmed or due.
func (t *Timer) Remaining() time.Duration {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index < 0 {
		return 0
	}
	if d := t.due.Sub(s.clock.Now()); d > 0 {
		return d
	}
	return 0
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)        { t := x.(*Timer); t.index = len(*h); *h = append(*h, t) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
func (h timerHeap) top() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
