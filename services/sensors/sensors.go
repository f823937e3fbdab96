// Package sensors is the node's sensor bus: a fixed table of pluggable
// modules, one per slot, driven through non-blocking start/poll/read calls.
package sensors

import (
	"fmt"
	"sync"

	"fieldnode-go/errcode"
	"fieldnode-go/types"

	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "sensors")

// Protocol ids carried in sensor sub-records.
const (
	ProtocolI2C uint8 = 1
	ProtocolSim uint8 = 0xFE
)

// Module is one sensor module. Calls must return quickly.
type Module interface {
	Kind() string
	SetPower(on bool) error
	// StartInit returns errcode.Unsupported when the module needs no init.
	StartInit() error
	PollInit() types.Poll[types.SensorStatus]
	Start() error
	Poll() types.Poll[types.SensorStatus]
	Read(out *types.SensorResult) error
}

// Bus maps slots to modules.
type Bus struct {
	mu    sync.RWMutex
	slots [types.MaxSlots]Module
}

func NewBus() *Bus { return &Bus{} }

// Attach installs m in slot.
func (b *Bus) Attach(slot int, m Module) error {
	if slot < 0 || slot >= types.MaxSlots {
		return errcode.New(errcode.OutOfRange, "sensors.attach", fmt.Sprintf("slot %d", slot))
	}
	if m == nil {
		return errcode.InvalidParams
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.slots[slot] != nil {
		return errcode.New(errcode.Busy, "sensors.attach", fmt.Sprintf("slot %d in use", slot))
	}
	b.slots[slot] = m
	log.WithField("slot", slot).WithField("kind", m.Kind()).Info("module attached")
	return nil
}

// Detach empties slot.
func (b *Bus) Detach(slot int) {
	if slot < 0 || slot >= types.MaxSlots {
		return
	}
	b.mu.Lock()
	b.slots[slot] = nil
	b.mu.Unlock()
}

func (b *Bus) module(slot int) Module {
	if slot < 0 || slot >= types.MaxSlots {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slots[slot]
}

func (b *Bus) get(slot int, op string) (Module, error) {
	m := b.module(slot)
	if m == nil {
		return nil, errcode.New(errcode.NotFound, op, fmt.Sprintf("slot %d empty", slot))
	}
	return m, nil
}

func (b *Bus) Present(slot int) bool { return b.module(slot) != nil }

func (b *Bus) SetPower(slot int, on bool) error {
	m, err := b.get(slot, "sensors.power")
	if err != nil {
		return err
	}
	return m.SetPower(on)
}

func (b *Bus) StartInit(slot int) error {
	m, err := b.get(slot, "sensors.init")
	if err != nil {
		return err
	}
	return m.StartInit()
}

func (b *Bus) PollInit(slot int) types.Poll[types.SensorStatus] {
	m := b.module(slot)
	if m == nil {
		return types.PollReady(types.SensorNotAvailable)
	}
	return m.PollInit()
}

func (b *Bus) StartMeasurement(slot int) error {
	m, err := b.get(slot, "sensors.start")
	if err != nil {
		return err
	}
	return m.Start()
}

func (b *Bus) PollStatus(slot int) types.Poll[types.SensorStatus] {
	m := b.module(slot)
	if m == nil {
		return types.PollReady(types.SensorNotAvailable)
	}
	return m.Poll()
}

func (b *Bus) ReadResult(slot int) (types.SensorResult, error) {
	var r types.SensorResult
	m, err := b.get(slot, "sensors.read")
	if err != nil {
		return r, err
	}
	if err := m.Read(&r); err != nil {
		return types.SensorResult{}, err
	}
	return r, nil
}
