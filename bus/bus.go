// Package bus is the node's in-process publish/subscribe bus. The wake-cycle
// controller publishes its state and every stored record here; the host CLI,
// loopback radio and tests subscribe.
//
// Topics are token paths. Subscriptions may use Any (one level, "+") and
// Rest (this level and below, "#"). Retained messages are replayed to new
// matching subscribers; publishing a retained nil payload clears one.
package bus

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

type tokenKind byte

const (
	kindString tokenKind = iota
	kindInt
	kindAny
	kindRest
)

// Token is a single element in a topic path.
type Token struct {
	kind tokenKind
	sval string
	ival int
}

func S(s string) Token { return Token{kind: kindString, sval: s} }
func I(i int) Token    { return Token{kind: kindInt, ival: i} }

// Wildcards, valid in subscriptions only.
var (
	Any  = Token{kind: kindAny}
	Rest = Token{kind: kindRest}
)

func (t Token) String() string {
	switch t.kind {
	case kindInt:
		return strconv.Itoa(t.ival)
	case kindAny:
		return "+"
	case kindRest:
		return "#"
	}
	return t.sval
}

// Topic is a sequence of tokens.
type Topic []Token

// T builds a topic from strings and ints; "+" and "#" become wildcards.
// Any other element type panics.
func T(parts ...any) Topic {
	t := make(Topic, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case Token:
			t = append(t, v)
		case string:
			switch v {
			case "+":
				t = append(t, Any)
			case "#":
				t = append(t, Rest)
			default:
				t = append(t, S(v))
			}
		case int:
			t = append(t, I(v))
		default:
			panic(fmt.Sprintf("bus: invalid topic token %T", p))
		}
	}
	return t
}

func (t Topic) String() string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = tok.String()
	}
	return strings.Join(parts, "/")
}

func (t Topic) wild() bool {
	for _, tok := range t {
		if tok.kind == kindAny || tok.kind == kindRest {
			return true
		}
	}
	return false
}

// Match reports whether the concrete topic c matches filter t.
func (t Topic) Match(c Topic) bool {
	for i, tok := range t {
		switch tok.kind {
		case kindRest:
			return true
		case kindAny:
			if i >= len(c) {
				return false
			}
		default:
			if i >= len(c) || c[i] != tok {
				return false
			}
		}
	}
	return len(t) == len(c)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// deliver never blocks; a full queue drops its oldest message.
func (s *Subscription) deliver(m *Message) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
}

func (n *node) collect(t Topic, out []*Subscription) []*Subscription {
	if rest, ok := n.children[Rest]; ok {
		out = append(out, rest.subs...)
	}
	if len(t) == 0 {
		return append(out, n.subs...)
	}
	if c, ok := n.children[t[0]]; ok {
		out = c.collect(t[1:], out)
	}
	if c, ok := n.children[Any]; ok {
		out = c.collect(t[1:], out)
	}
	return out
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.Mutex
	root     *node
	retained map[string]*Message
	qLen     int
}

// NewBus creates a bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{
		root:     &node{},
		retained: map[string]*Message{},
		qLen:     queueLen,
	}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.retained {
		if sub.topic.Match(m.Topic) {
			sub.deliver(m)
		}
	}
}

// Publish delivers msg to every matching subscriber. Wildcard topics are
// not publishable and are dropped.
func (b *Bus) Publish(msg *Message) {
	if msg == nil || msg.Topic.wild() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		key := msg.Topic.String()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	for _, sub := range b.root.collect(msg.Topic, nil) {
		sub.deliver(msg)
	}
}

// Retained returns the retained message on a concrete topic.
func (b *Bus) Retained(topic Topic) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.retained[topic.String()]
	return m, ok
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, t := range sub.topic {
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	// Prune empty nodes.
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent, key := stack[i], sub.topic[i]
		child := parent.children[key]
		if len(child.subs) != 0 || len(child.children) != 0 {
			break
		}
		delete(parent.children, key)
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection groups the subscriptions of one component.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions of c.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
