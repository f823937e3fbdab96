// Package node assembles a field node from its configuration: flash log,
// sensor slots, gauge, uplink, RTC and the wake-cycle controller, all driven
// by one cooperative scheduler.
package node

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/drivers/bkp"
	"fieldnode-go/drivers/bq35100"
	"fieldnode-go/drivers/flash"
	"fieldnode-go/errcode"
	"fieldnode-go/services/config"
	"fieldnode-go/services/dutycycle"
	"fieldnode-go/services/logstore"
	"fieldnode-go/services/power"
	"fieldnode-go/services/radio"
	"fieldnode-go/services/rtc"
	"fieldnode-go/services/sched"
	"fieldnode-go/services/sensors"
	"fieldnode-go/types"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"
)

var log = logger.WithField("svc", "node")

// Options carry what the configuration cannot: the clock and host handles.
type Options struct {
	Clock   clockwork.Clock // nil means the real clock
	I2C     drivers.I2C     // needed by aht20 slots and the bq35100 gauge
	MQTT    radio.Client    // nil builds a paho client from the config
	DieTemp func() int32    // MCU temperature in milli-°C, nil if absent
	SyncRTC bool            // set the RTC from host time at boot
	USB     bool            // USB attached at boot
}

// StateEvent is published on bus.TopicState for every transition.
type StateEvent struct {
	From, To dutycycle.State
}

// RecordEvent is published retained on bus.TopicRecord.
type RecordEvent struct {
	Record logstore.Record
	Saved  bool
}

type Node struct {
	cfg   config.Config
	clock clockwork.Clock

	Bus     *bus.Bus
	conn    *bus.Connection
	Sched   *sched.Scheduler
	Store   *logstore.Store
	Regs    bkp.Registers
	Sensors *sensors.Bus
	RTC     *rtc.Sim
	Supply  *power.Supply
	Ctrl    *dutycycle.Controller

	link    dutycycle.RadioLink
	closers []io.Closer

	mu         sync.Mutex
	console    []func()
	erase      func(logstore.Progress, error)
	eraseFails int
	sleeps     int
}

// Open builds the node. Nothing runs until Run (or the scheduler is polled).
func Open(cfg config.Config, opt Options) (*Node, error) {
	if opt.Clock == nil {
		opt.Clock = clockwork.NewRealClock()
	}
	n := &Node{cfg: cfg, clock: opt.Clock, Bus: bus.NewBus(32)}
	n.conn = n.Bus.NewConnection("node")

	st, regs, closer, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	n.Store, n.Regs = st, regs
	if closer != nil {
		n.closers = append(n.closers, closer)
	}

	if err := n.buildSensors(opt); err != nil {
		n.Close()
		return nil, err
	}
	gauge, err := buildGauge(cfg.Gauge, opt.I2C)
	if err != nil {
		n.Close()
		return nil, err
	}
	if n.link, err = n.buildRadio(opt); err != nil {
		n.Close()
		return nil, err
	}

	n.RTC = rtc.NewSim(opt.Clock)
	if opt.SyncRTC {
		n.RTC.SetFromHost()
	}
	n.Supply = power.NewSupply(opt.USB)
	n.Sched = sched.New(opt.Clock)

	deps := dutycycle.Deps{
		Sensors: n.Sensors,
		Gauge:   gauge,
		Radio:   n.link,
		RTC:     n.RTC,
		Power:   n.Supply,
		Store:   n.Store,
		Regs:    n.Regs,
	}
	if opt.DieTemp != nil {
		deps.Thermo = power.NewDieThermometer(opt.DieTemp)
	}
	n.Ctrl = dutycycle.New(cfg.DutyCycle(), deps, n.Sched)
	n.Ctrl.Observe(dutycycle.Observer{
		OnTransition: n.onTransition,
		OnRecord:     n.onRecord,
		OnSleep:      n.onSleep,
	})

	n.Sched.Register(sched.TaskWake, n.dispatchWake)
	n.Sched.Register(sched.TaskConsole, n.runConsole)
	n.Sched.Register(sched.TaskStore, n.eraseStep)

	cfg.Publish(n.conn)
	log.WithField("device", cfg.Device).WithField("slots", len(cfg.Slots)).WithField("radio", cfg.Radio.Kind).Info("node assembled")
	return n, nil
}

// OpenStore opens the flash image and backup registers named by cfg (in
// memory when no path is set) and builds the log on them. The closer, if
// not nil, releases the flash image.
func OpenStore(cfg config.Config) (*logstore.Store, bkp.Registers, io.Closer, error) {
	s := cfg.Store
	g := flash.Geometry{Size: s.Size, PageSize: s.PageSize, BlockSize: s.BlockSize}

	var (
		dev    flash.Device
		closer io.Closer
	)
	if s.FlashPath != "" {
		f, err := flash.OpenFile(s.FlashPath, g)
		if err != nil {
			return nil, nil, nil, err
		}
		dev, closer = f, f
	} else {
		m, err := flash.NewMem(g)
		if err != nil {
			return nil, nil, nil, err
		}
		dev = m
	}

	var regs bkp.Registers = bkp.NewMem()
	if s.RegsPath != "" {
		f, err := bkp.OpenFile(s.RegsPath)
		if err != nil {
			closeQuiet(closer)
			return nil, nil, nil, err
		}
		regs = f
	}

	st, err := logstore.New(dev, regs, logstore.Geometry{Base: s.Base, Size: s.Region, PageSize: s.Record})
	if err != nil {
		closeQuiet(closer)
		return nil, nil, nil, err
	}
	return st, regs, closer, nil
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func (n *Node) buildSensors(opt Options) error {
	n.Sensors = sensors.NewBus()
	for _, sl := range n.cfg.Slots {
		m, err := sensors.Build(sensors.BuildInput{
			Params: sensors.Params{Slot: sl.Slot, Kind: sl.Kind, Addr: sl.Addr, TypeID: sl.TypeID, Delay: sl.Delay},
			I2C:    opt.I2C,
			Clock:  opt.Clock,
		})
		if err != nil {
			return err
		}
		if err := n.Sensors.Attach(sl.Slot, m); err != nil {
			return err
		}
	}
	return nil
}

func buildGauge(g config.Gauge, i2c drivers.I2C) (dutycycle.BatteryGauge, error) {
	switch g.Kind {
	case "bq35100":
		if i2c == nil {
			return nil, errcode.New(errcode.InvalidParams, "node.gauge", "bq35100 needs an i2c bus")
		}
		return power.NewGauge(bq35100.New(i2c, bq35100.Config{Address: g.Address})), nil
	case "sim", "":
		return power.NewSimGauge(), nil
	}
	return nil, errcode.New(errcode.Unsupported, "node.gauge", g.Kind)
}

func (n *Node) buildRadio(opt Options) (dutycycle.RadioLink, error) {
	r := n.cfg.Radio
	switch r.Kind {
	case "mqtt":
		mc := radio.MQTTConfig{Broker: r.Broker, ClientID: r.ClientID, Topic: r.Topic, QoS: r.QoS, MinInterval: r.MinInterval}
		c := opt.MQTT
		if c == nil {
			c = radio.NewClient(mc)
		}
		l := radio.NewMQTTLink(c, opt.Clock, mc)
		n.closers = append(n.closers, closerFunc(func() error { l.Close(); return nil }))
		return l, nil
	case "loopback", "":
		l := radio.NewLoopback(n.Bus.NewConnection("radio"))
		l.Gap = r.MinInterval
		return l, nil
	}
	return nil, errcode.New(errcode.Unsupported, "node.radio", r.Kind)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Config returns the configuration the node was built from.
func (n *Node) Config() config.Config { return n.cfg }

// Connection returns a new bus connection for observers.
func (n *Node) Connection(id string) *bus.Connection { return n.Bus.NewConnection(id) }

// Sleeps counts completed wake cycles.
func (n *Node) Sleeps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sleeps
}

// Run boots the node with a reset wake and dispatches until ctx is done.
func (n *Node) Run(ctx context.Context, tick time.Duration) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Sched.Run(ctx, tick)
	}()
	n.RTC.Raise(types.WakeReset)
	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case <-n.RTC.Wakeups():
			n.Sched.Request(sched.TaskWake)
		}
	}
}

// Close releases host resources.
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	if n.conn != nil {
		n.conn.Disconnect()
	}
	return errors.Join(errs...)
}
