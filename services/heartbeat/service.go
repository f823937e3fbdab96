// Package heartbeat logs a periodic status line for a running node: the last
// controller state, the last stored record and the last chosen sleep. The
// period follows the retained config/heartbeat message.
package heartbeat

import (
	"context"
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/services/node"

	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "heartbeat")

var topicConfigHeartbeat = bus.T("config", "heartbeat")

// Status is what a beat reports.
type Status struct {
	State   string
	Records uint32 // id of the last record seen + 1
	Saved   bool
	Sleep   time.Duration
}

type Service struct {
	clock clockwork.Clock
	beat  func(Status)
}

// New returns a service that logs each beat. beat, if not nil, also receives
// it.
func New(clock clockwork.Clock, beat func(Status)) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{clock: clock, beat: beat}
}

type subs struct {
	cfg, state, rec, sleep *bus.Subscription
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, sub subs) {
	defer conn.Disconnect()

	var (
		st     Status
		tick   clockwork.Ticker
		tickCh <-chan time.Time
	)
	stop := func() {
		if tick != nil {
			tick.Stop()
			tick, tickCh = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("heartbeat stopping")
			return
		case <-tickCh:
			s.emit(st)
		case msg := <-sub.cfg.Channel():
			d, _ := msg.Payload.(time.Duration)
			stop()
			if d > 0 {
				tick = s.clock.NewTicker(d)
				tickCh = tick.Chan()
			}
			log.WithField("interval", d).Debug("heartbeat interval set")
		case msg := <-sub.state.Channel():
			if ev, ok := msg.Payload.(node.StateEvent); ok {
				st.State = ev.To.String()
			}
		case msg := <-sub.rec.Channel():
			if ev, ok := msg.Payload.(node.RecordEvent); ok {
				// An unsaved record was never given an id.
				if ev.Saved {
					st.Records = ev.Record.ID + 1
				}
				st.Saved = ev.Saved
			}
		case msg := <-sub.sleep.Channel():
			if d, ok := msg.Payload.(time.Duration); ok {
				st.Sleep = d
			}
		}
	}
}

func (s *Service) emit(st Status) {
	log.WithField("state", st.State).
		WithField("records", st.Records).
		WithField("saved", st.Saved).
		WithField("sleep", st.Sleep).
		Info("heartbeat")
	if s.beat != nil {
		s.beat(st)
	}
}

// Start the heartbeat service. Subscriptions are in place when it returns.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	sub := subs{
		cfg:   conn.Subscribe(topicConfigHeartbeat),
		state: conn.Subscribe(bus.TopicState),
		rec:   conn.Subscribe(bus.TopicRecord),
		sleep: conn.Subscribe(bus.TopicSleep),
	}
	go s.serviceLoop(ctx, conn, sub)
	return nil
}
