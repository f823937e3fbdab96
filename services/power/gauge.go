package power

import (
	"errors"
	"sync"

	"fieldnode-go/drivers/bq35100"
	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

// Gauge adapts the BQ35100 driver to the controller's polled gauge contract.
type Gauge struct {
	dev *bq35100.Device
}

func NewGauge(dev *bq35100.Device) *Gauge { return &Gauge{dev: dev} }

func (g *Gauge) Enable() error {
	g.dev.Enable()
	return nil
}

func (g *Gauge) PollInit() types.Poll[struct{}] {
	ok, err := g.dev.InitComplete()
	return flagPoll("gauge.init", ok, err)
}

func (g *Gauge) StartGauge() error {
	err := g.dev.StartGauge()
	switch {
	case errors.Is(err, bq35100.ErrNotInitialised):
		return errcode.Wrap(errcode.Busy, "gauge.start", err)
	case err != nil:
		return errcode.Wrap(errcode.Error, "gauge.start", err)
	}
	return nil
}

func (g *Gauge) PollActive() types.Poll[struct{}] {
	ok, err := g.dev.GaugeActive()
	return flagPoll("gauge.active", ok, err)
}

func (g *Gauge) Measure() (types.GaugeReading, error) {
	r, err := g.dev.Measure()
	if err != nil {
		return types.GaugeReading{}, errcode.Wrap(errcode.Error, "gauge.measure", err)
	}
	return types.GaugeReading{
		VoltageMilliV: r.MilliVolts,
		CurrentMilliA: r.MilliAmps,
		SOH:           r.SOH,
		TempDeciC:     r.DeciC,
	}, nil
}

func (g *Gauge) Disable() error { return g.dev.Disable() }

func flagPoll(op string, ok bool, err error) types.Poll[struct{}] {
	switch {
	case err != nil:
		return types.PollFailed[struct{}](errcode.Wrap(errcode.Error, op, err))
	case ok:
		return types.PollReady(struct{}{})
	}
	return types.PollPending[struct{}]()
}

// SimGauge is a gauge without hardware. Init and gauging complete after a
// fixed number of polls; each measurement discharges the cell a little.
type SimGauge struct {
	mu sync.Mutex

	Reading    types.GaugeReading
	InitPolls  int // polls before init completes
	StuckInit  bool
	DrainMilli uint16 // voltage drop per measurement

	enabled  bool
	gauging  bool
	polls    int
	Measures int
}

func NewSimGauge() *SimGauge {
	return &SimGauge{
		Reading:    types.GaugeReading{VoltageMilliV: 3600, CurrentMilliA: -12, SOH: 100, TempDeciC: 215},
		DrainMilli: 1,
	}
}

func (s *SimGauge) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled, s.polls = true, 0
	return nil
}

func (s *SimGauge) PollInit() types.Poll[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return types.PollFailed[struct{}](errcode.New(errcode.Error, "sim_gauge.init", "disabled"))
	}
	if s.StuckInit || s.polls < s.InitPolls {
		s.polls++
		return types.PollPending[struct{}]()
	}
	return types.PollReady(struct{}{})
}

func (s *SimGauge) StartGauge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return errcode.New(errcode.Busy, "sim_gauge.start", "disabled")
	}
	s.gauging = true
	return nil
}

func (s *SimGauge) PollActive() types.Poll[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gauging {
		return types.PollPending[struct{}]()
	}
	return types.PollReady(struct{}{})
}

func (s *SimGauge) Measure() (types.GaugeReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Measures++
	r := s.Reading
	if s.Reading.VoltageMilliV > s.DrainMilli {
		s.Reading.VoltageMilliV -= s.DrainMilli
	}
	return r, nil
}

func (s *SimGauge) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled, s.gauging = false, false
	return nil
}
