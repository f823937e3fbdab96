package radio

import (
	"time"

	"fieldnode-go/bus"
	"fieldnode-go/errcode"
	"fieldnode-go/types"
)

// Uplink is the payload published by Loopback.
type Uplink struct {
	Seq     uint32
	Payload []byte
}

// Loopback joins immediately and publishes each uplink on bus.TopicUplink.
type Loopback struct {
	conn   *bus.Connection
	joined bool
	sent   bool
	seq    uint32
	Gap    time.Duration
}

func NewLoopback(conn *bus.Connection) *Loopback { return &Loopback{conn: conn} }

func (l *Loopback) Joined() bool     { return l.joined }
func (l *Loopback) StartJoin() error { return nil }

func (l *Loopback) PollJoin() types.Poll[struct{}] {
	l.joined = true
	return types.PollReady(struct{}{})
}

func (l *Loopback) Send(payload []byte) error {
	if !l.joined {
		return errcode.NotJoined
	}
	l.seq++
	p := append([]byte(nil), payload...)
	l.conn.Publish(&bus.Message{Topic: bus.TopicUplink, Payload: Uplink{Seq: l.seq, Payload: p}})
	l.sent = true
	return nil
}

func (l *Loopback) PollReady() types.RadioPoll {
	if !l.sent {
		return types.RadioPoll{State: types.RadioFailed, Err: errcode.New(errcode.Error, "loopback", "nothing sent")}
	}
	l.sent = false
	return types.RadioPoll{State: types.RadioSent}
}

func (l *Loopback) MinInterval() time.Duration { return l.Gap }
