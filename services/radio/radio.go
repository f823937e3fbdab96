// Package radio provides the node's uplinks. MQTTLink carries records to a
// broker over paho; Loopback publishes them on the in-process bus.
//
// Both are polled: Start*/Send return immediately and completion is read
// through PollJoin/PollReady.
package radio

import (
	"time"

	"fieldnode-go/errcode"
	"fieldnode-go/services/metrics"
	"fieldnode-go/types"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	logger "github.com/sirupsen/logrus"
)

var log = logger.WithField("svc", "radio")

// Client is the part of mqtt.Client the link uses.
type Client interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Topic       string
	QoS         byte
	MinInterval time.Duration
}

// NewClient builds a paho client for cfg. Connect is left to the link.
func NewClient(cfg MQTTConfig) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("broker connection lost")
	})
	return mqtt.NewClient(opts)
}

// MQTTLink maps join to broker connect and uplink to publish.
type MQTTLink struct {
	c     Client
	clock clockwork.Clock
	topic string
	qos   byte
	gap   time.Duration

	join mqtt.Token
	send mqtt.Token
	buf  []byte
	last time.Time
}

func NewMQTTLink(c Client, clock clockwork.Clock, cfg MQTTConfig) *MQTTLink {
	return &MQTTLink{c: c, clock: clock, topic: cfg.Topic, qos: cfg.QoS, gap: cfg.MinInterval}
}

func (l *MQTTLink) Joined() bool { return l.c.IsConnected() }

// StartJoin connects. A connect still in flight from an abandoned attempt
// is adopted rather than started again; a finished one is discarded.
func (l *MQTTLink) StartJoin() error {
	if l.join != nil {
		select {
		case <-l.join.Done():
			l.join = nil
		default:
			log.Debug("connect still in flight, waiting on it")
			return nil
		}
	}
	log.Info("connecting to broker")
	l.join = l.c.Connect()
	return nil
}

func (l *MQTTLink) PollJoin() types.Poll[struct{}] {
	if l.join == nil {
		return types.PollFailed[struct{}](errcode.NotJoined)
	}
	select {
	case <-l.join.Done():
	default:
		return types.PollPending[struct{}]()
	}
	err := l.join.Error()
	l.join = nil
	if err != nil {
		metrics.RadioFailures.WithLabelValues("join").Inc()
		return types.PollFailed[struct{}](errcode.Wrap(errcode.NotJoined, "mqtt.connect", err))
	}
	return types.PollReady(struct{}{})
}

func (l *MQTTLink) Send(payload []byte) error {
	if !l.c.IsConnected() {
		return errcode.NotJoined
	}
	if l.send != nil {
		select {
		case <-l.send.Done():
		default:
			// paho may still hold buf for the abandoned publish.
			metrics.RadioFailures.WithLabelValues("send_abandoned").Inc()
			log.Debug("previous publish abandoned")
			l.buf = nil
		}
		l.send = nil
	}
	l.buf = append(l.buf[:0], payload...)
	l.send = l.c.Publish(l.topic, l.qos, false, l.buf)
	l.last = l.clock.Now()
	return nil
}

func (l *MQTTLink) PollReady() types.RadioPoll {
	if l.send == nil {
		return types.RadioPoll{State: types.RadioFailed, Err: errcode.New(errcode.Error, "mqtt.publish", "nothing sent")}
	}
	select {
	case <-l.send.Done():
	default:
		return types.RadioPoll{State: types.RadioPending}
	}
	err := l.send.Error()
	l.send = nil
	if err != nil {
		metrics.RadioFailures.WithLabelValues("send").Inc()
		return types.RadioPoll{State: types.RadioFailed, Err: err}
	}
	return types.RadioPoll{State: types.RadioSent, Status: l.qos}
}

func (l *MQTTLink) MinInterval() time.Duration { return l.gap }

// Close disconnects, giving in-flight publishes up to 250ms.
func (l *MQTTLink) Close() {
	if l.c.IsConnected() {
		l.c.Disconnect(250)
	}
}
