// Package bkp models the battery-backed register file of the MCU: a handful
// of 32-bit words that survive a reset but not a full power loss. The node
// uses it only as a boot-time cache.
package bkp

import "sync"

// Reg names one 32-bit backup register.
type Reg uint8

const (
	RegNextID Reg = iota
	RegOldestID
	RegBattery // types.BatteryWord
	RegLastWakeup
	RegRejoin
	RegJoinFailures
	numRegs
)

// Count is the number of registers the node uses.
const Count = int(numRegs)

func (r Reg) String() string {
	switch r {
	case RegNextID:
		return "next_id"
	case RegOldestID:
		return "oldest_id"
	case RegBattery:
		return "battery"
	case RegLastWakeup:
		return "last_wakeup"
	case RegRejoin:
		return "rejoin"
	case RegJoinFailures:
		return "join_failures"
	default:
		return "unknown"
	}
}

// Registers reads and writes whole words.
type Registers interface {
	Read(r Reg) uint32
	Write(r Reg, v uint32)
}

// Mem is a volatile register file.
type Mem struct {
	mu sync.Mutex
	w  [numRegs]uint32
}

func NewMem() *Mem { return &Mem{} }

func (m *Mem) Read(r Reg) uint32 {
	if r >= numRegs {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w[r]
}

func (m *Mem) Write(r Reg, v uint32) {
	if r >= numRegs {
		return
	}
	m.mu.Lock()
	m.w[r] = v
	m.mu.Unlock()
}

// PowerLoss clears every register.
func (m *Mem) PowerLoss() {
	m.mu.Lock()
	m.w = [numRegs]uint32{}
	m.mu.Unlock()
}

// Bool helpers for flag registers.
func ReadBool(regs Registers, r Reg) bool { return regs.Read(r) != 0 }

func WriteBool(regs Registers, r Reg, v bool) {
	var w uint32
	if v {
		w = 1
	}
	regs.Write(r, w)
}
