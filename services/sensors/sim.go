package sensors

import (
	"time"

	"fieldnode-go/errcode"
	"fieldnode-go/types"

	"github.com/jonboulle/clockwork"
)

// TypeSim is the default type id of simulated modules.
const TypeSim uint16 = 0x7F01

func init() { RegisterBuilder("sim", simBuilder{}) }

type simBuilder struct{}

func (simBuilder) Build(in BuildInput) (Module, error) {
	typ := in.TypeID
	if typ == 0 {
		typ = TypeSim
	}
	delay := in.Delay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return NewSim(in.Clock, typ, delay), nil
}

// Sim is a module without hardware. Each measurement yields a climate
// payload that drifts with the measurement count, ready Delay after Start.
type Sim struct {
	clock clockwork.Clock
	typ   uint16
	Delay time.Duration

	// Test knobs.
	NeedsInit bool
	Stuck     bool
	FailRead  bool

	powered bool
	started time.Time
	count   int
	ready   bool
}

func NewSim(clock clockwork.Clock, typ uint16, delay time.Duration) *Sim {
	return &Sim{clock: clock, typ: typ, Delay: delay}
}

func (s *Sim) Kind() string { return "sim" }

func (s *Sim) Powered() bool { return s.powered }

func (s *Sim) SetPower(on bool) error { s.powered = on; return nil }

func (s *Sim) StartInit() error {
	if !s.NeedsInit {
		return errcode.Unsupported
	}
	return nil
}

func (s *Sim) PollInit() types.Poll[types.SensorStatus] {
	return types.PollReady(types.SensorDone)
}

func (s *Sim) Start() error {
	if !s.powered {
		return errcode.New(errcode.SensorBus, "sim.start", "unpowered")
	}
	s.started = s.clock.Now()
	s.ready = false
	return nil
}

func (s *Sim) Poll() types.Poll[types.SensorStatus] {
	if s.started.IsZero() {
		return types.PollReady(types.SensorNotAvailable)
	}
	if s.Stuck || s.clock.Since(s.started) < s.Delay {
		return types.PollPending[types.SensorStatus]()
	}
	s.ready = true
	return types.PollReady(types.SensorDone)
}

func (s *Sim) Read(out *types.SensorResult) error {
	if s.FailRead || !s.ready {
		return errcode.New(errcode.SensorBus, "sim.read", "no sample")
	}
	s.ready = false
	s.started = time.Time{}
	s.count++
	v := types.ClimateValue{
		DeciC:  int16(200 + s.count%50),
		DeciRH: uint16(450 + (s.count*7)%100),
	}
	out.TypeID = s.typ
	out.ProtocolID = ProtocolSim
	out.SetPayload(AppendClimate(nil, v))
	return nil
}
