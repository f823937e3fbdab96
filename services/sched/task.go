// Package sched is the node's cooperative dispatcher: a set of pending task
// ids, software timers on a clock, and a Poll loop that runs each pending
// task body to completion, one at a time.
//
// Request and timer expiry are the only entry points other goroutines (the
// host stand-in for interrupt handlers) may use. Task bodies never run
// concurrently with each other.
package sched

import (
	"math/bits"
	"sync/atomic"
)

// TaskID names a schedulable task. Lower ids run first within one Poll.
type TaskID uint8

const (
	TaskController TaskID = iota // duty-cycle state machine
	TaskStore                    // stepwise log erase
	TaskWake                     // latched wake-up dispatch
	TaskConsole                  // queued host commands
	numTasks
)

// MaxTasks bounds TaskID values.
const MaxTasks = int(numTasks)

func (id TaskID) String() string {
	switch id {
	case TaskController:
		return "controller"
	case TaskStore:
		return "store"
	case TaskWake:
		return "wake"
	case TaskConsole:
		return "console"
	default:
		return "unknown"
	}
}

func (id TaskID) valid() bool { return id < numTasks }

// TaskSet is a set of task ids.
type TaskSet struct{ bits uint32 }

func SetOf(ids ...TaskID) TaskSet {
	var s TaskSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *TaskSet) Add(id TaskID) {
	if id.valid() {
		s.bits |= 1 << id
	}
}

func (s *TaskSet) Remove(id TaskID)  { s.bits &^= 1 << id }
func (s TaskSet) Has(id TaskID) bool { return id.valid() && s.bits&(1<<id) != 0 }
func (s TaskSet) Empty() bool        { return s.bits == 0 }
func (s TaskSet) Len() int           { return bits.OnesCount32(s.bits) }

// Each calls fn for every member in ascending id order.
func (s TaskSet) Each(fn func(TaskID)) {
	for b := s.bits; b != 0; b &= b - 1 {
		fn(TaskID(bits.TrailingZeros32(b)))
	}
}

// pendingSet is the concurrently updated form of TaskSet.
type pendingSet struct{ v atomic.Uint32 }

func (p *pendingSet) add(id TaskID) {
	if !id.valid() {
		return
	}
	m := uint32(1) << id
	for {
		old := p.v.Load()
		if old&m != 0 || p.v.CompareAndSwap(old, old|m) {
			return
		}
	}
}

func (p *pendingSet) take() TaskSet { return TaskSet{bits: p.v.Swap(0)} }
func (p *pendingSet) peek() TaskSet { return TaskSet{bits: p.v.Load()} }
