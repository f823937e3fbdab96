package dutycycle

import (
	"errors"
	"testing"
	"time"

	"fieldnode-go/drivers/bkp"
	"fieldnode-go/drivers/flash"
	"fieldnode-go/errcode"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/sched"
	"fieldnode-go/types"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// ---- sensors ----

type fakeSensors struct {
	present  [types.MaxSlots]bool
	withInit [types.MaxSlots]bool
	stuck    [types.MaxSlots]bool
	readErr  [types.MaxSlots]error

	calls    int
	power    map[int]bool
	measured []int
}

func newFakeSensors(slots ...int) *fakeSensors {
	f := &fakeSensors{power: map[int]bool{}}
	for _, s := range slots {
		f.present[s] = true
	}
	return f
}

func (f *fakeSensors) Present(slot int) bool { return f.present[slot] }

func (f *fakeSensors) SetPower(slot int, on bool) error {
	f.calls++
	f.power[slot] = on
	return nil
}

func (f *fakeSensors) StartInit(slot int) error {
	f.calls++
	if !f.withInit[slot] {
		return errcode.Unsupported
	}
	return nil
}

func (f *fakeSensors) PollInit(slot int) types.Poll[types.SensorStatus] {
	f.calls++
	return types.PollReady(types.SensorDone)
}

func (f *fakeSensors) StartMeasurement(slot int) error {
	f.calls++
	return nil
}

func (f *fakeSensors) PollStatus(slot int) types.Poll[types.SensorStatus] {
	f.calls++
	if f.stuck[slot] {
		return types.PollPending[types.SensorStatus]()
	}
	return types.PollReady(types.SensorDone)
}

func (f *fakeSensors) ReadResult(slot int) (types.SensorResult, error) {
	f.calls++
	if err := f.readErr[slot]; err != nil {
		return types.SensorResult{}, err
	}
	f.measured = append(f.measured, slot)
	r := types.SensorResult{TypeID: 0x0100 + uint16(slot), ProtocolID: 1}
	r.SetPayload([]byte{byte(slot), 0xA5, 0x5A})
	return r, nil
}

// ---- gauge ----

type fakeGauge struct {
	initStuck bool
	measures  int
	disables  int
	reading   types.GaugeReading
}

func (g *fakeGauge) Enable() error { return nil }

func (g *fakeGauge) PollInit() types.Poll[struct{}] {
	if g.initStuck {
		return types.PollPending[struct{}]()
	}
	return types.PollReady(struct{}{})
}

func (g *fakeGauge) StartGauge() error                { return nil }
func (g *fakeGauge) PollActive() types.Poll[struct{}] { return types.PollReady(struct{}{}) }

func (g *fakeGauge) Measure() (types.GaugeReading, error) {
	g.measures++
	return g.reading, nil
}

func (g *fakeGauge) Disable() error { g.disables++; return nil }

// ---- radio ----

type fakeRadio struct {
	joined    bool
	joinFails bool
	sendFails bool
	joins     int
	sends     [][]byte
	minGap    time.Duration
}

func (r *fakeRadio) Joined() bool { return r.joined }

func (r *fakeRadio) StartJoin() error { r.joins++; return nil }

func (r *fakeRadio) PollJoin() types.Poll[struct{}] {
	if r.joinFails {
		return types.PollFailed[struct{}](errors.New("no join accept"))
	}
	r.joined = true
	return types.PollReady(struct{}{})
}

func (r *fakeRadio) Send(p []byte) error {
	r.sends = append(r.sends, append([]byte(nil), p...))
	return nil
}

func (r *fakeRadio) PollReady() types.RadioPoll {
	if r.sendFails {
		return types.RadioPoll{State: types.RadioFailed, Err: errors.New("no ack")}
	}
	return types.RadioPoll{State: types.RadioSent}
}
func (r *fakeRadio) MinInterval() time.Duration { return r.minGap }

// ---- rtc, power, thermometer ----

type fakeRTC struct {
	now   uint32
	ok    bool
	sets  []uint32
	alarm time.Duration
}

func (r *fakeRTC) Now() (uint32, bool) { return r.now, r.ok }

func (r *fakeRTC) Set(unix uint32) error {
	r.sets = append(r.sets, unix)
	r.now, r.ok = unix, true
	return nil
}

func (r *fakeRTC) SetAlarm(d time.Duration) error { r.alarm = d; return nil }

type fakePower struct {
	usb    bool
	sleeps int
}

func (p *fakePower) USBAttached() bool     { return p.usb }
func (p *fakePower) EnterDeepSleep() error { p.sleeps++; return nil }

type fakeThermo struct{}

func (fakeThermo) ReadDeciC() (int16, error) { return 231, nil }

// ---- harness ----

type transition struct{ from, to State }

type harness struct {
	clk     clockwork.FakeClock
	s       *sched.Scheduler
	c       *Controller
	sensors *fakeSensors
	gauge   *fakeGauge
	radio   *fakeRadio
	rtc     *fakeRTC
	power   *fakePower
	dev     *flash.Mem
	regs    *bkp.Mem
	store   *logstore.Store
	trans   []transition
	records []logstore.Record
}

func newHarness(t *testing.T, cfg Config, slots ...int) *harness {
	t.Helper()
	dev, err := flash.NewMem(flash.Geometry{Size: 16 * 256, PageSize: 256, BlockSize: 1024})
	require.NoError(t, err)
	regs := bkp.NewMem()
	st, err := logstore.New(dev, regs, logstore.Geometry{})
	require.NoError(t, err)
	return newHarnessWith(t, cfg, dev, regs, st, slots...)
}

func newHarnessWith(t *testing.T, cfg Config, dev *flash.Mem, regs *bkp.Mem, st *logstore.Store, slots ...int) *harness {
	t.Helper()
	h := &harness{
		clk:     clockwork.NewFakeClock(),
		sensors: newFakeSensors(slots...),
		gauge:   &fakeGauge{reading: types.GaugeReading{VoltageMilliV: 3600, SOH: 87, TempDeciC: 215}},
		radio:   &fakeRadio{joined: true},
		rtc:     &fakeRTC{now: 1_700_000_000, ok: true},
		power:   &fakePower{},
		dev:     dev,
		regs:    regs,
		store:   st,
	}
	h.s = sched.New(h.clk)
	if cfg.PollEvery == 0 {
		cfg.PollEvery = 100 * time.Millisecond
	}
	h.c = New(cfg, Deps{
		Sensors: h.sensors,
		Gauge:   h.gauge,
		Radio:   h.radio,
		RTC:     h.rtc,
		Power:   h.power,
		Thermo:  fakeThermo{},
		Store:   st,
		Regs:    regs,
	}, h.s)
	h.c.Observe(Observer{
		OnTransition: func(from, to State) { h.trans = append(h.trans, transition{from, to}) },
		OnRecord:     func(rec logstore.Record, _ bool) { h.records = append(h.records, rec) },
	})
	return h
}

// cycle wakes the controller and drives the scheduler until it sleeps or
// stays awake on USB.
func (h *harness) cycle(t *testing.T, src types.WakeupSource) {
	t.Helper()
	h.c.Wake(src)
	h.drive(t)
}

func (h *harness) drive(t *testing.T) {
	t.Helper()
	step := h.c.Config().PollEvery
	for i := 0; i < 10_000; i++ {
		h.s.Poll()
		switch h.c.State() {
		case StateSleep, StateStayAwake:
			return
		}
		h.clk.Advance(step)
	}
	t.Fatalf("controller stuck in %s", h.c.State())
}

func (h *harness) left(s State) []State {
	var to []State
	for _, tr := range h.trans {
		if tr.from == s {
			to = append(to, tr.to)
		}
	}
	return to
}

func (h *harness) visited(s State) bool {
	for _, tr := range h.trans {
		if tr.to == s {
			return true
		}
	}
	return false
}
