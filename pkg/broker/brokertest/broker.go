// Package brokertest provides an in-memory topic broker implementing the broker
// Connection and Channel interfaces, with durable queues, prefetch and ack/nack semantics.
package brokertest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medtrack/medtrack-backend/pkg/broker"
)

const deliveryBuffer = 256

// Published is one message accepted by the broker.
type Published struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

type message struct {
	pub         amqp.Publishing
	exchange    string
	routingKey  string
	redelivered bool
}

type queue struct {
	name      string
	ready     []message
	consumers []*consumer
	next      int
}

type binding struct {
	queue   string
	pattern string
}

type inflight struct {
	queue string
	msg   message
}

// Broker is a process-local stand-in for the AMQP server.
type Broker struct {
	mu         sync.Mutex
	exchanges  map[string]string
	queues     map[string]*queue
	bindings   map[string][]binding
	published  []Published
	conns      []*conn
	dials      int
	failDials  int
	dialErr    error
	publishErr error
	tag        uint64
}

// New returns an empty broker.
func New() *Broker {
	return &Broker{
		exchanges: map[string]string{},
		queues:    map[string]*queue{},
		bindings:  map[string][]binding{},
	}
}

// Dial satisfies broker.Dialer.
func (b *Broker) Dial(url string, _ amqp.Config) (broker.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failDials > 0 {
		b.failDials--
		return nil, b.dialErr
	}
	c := &conn{broker: b}
	b.conns = append(b.conns, c)
	return c, nil
}

// FailDials makes the next n dials return err.
func (b *Broker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = errors.New("connection refused")
	}
	b.failDials = n
	b.dialErr = err
}

// FailPublishes makes every publish return err until called again with nil.
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Dials counts dial attempts, failed ones included.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DropConnections simulates a broker restart: every connection closes and unacked
// messages return to their queues. Durable state survives.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := append([]*conn(nil), b.conns...)
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Publish routes a message as if a client had sent it.
func (b *Broker) Publish(exchange, routingKey string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishLocked(exchange, routingKey, msg)
}

// Published returns every accepted message in publish order.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// PublishedTo filters Published by routing key.
func (b *Broker) PublishedTo(routingKey string) []Published {
	var out []Published
	for _, p := range b.Published() {
		if p.RoutingKey == routingKey {
			out = append(out, p)
		}
	}
	return out
}

// Ready lists messages waiting in queue, head first.
func (b *Broker) Ready(name string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil
	}
	out := make([]amqp.Publishing, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.pub)
	}
	return out
}

// Depth counts ready plus unacknowledged messages of queue.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	depth := 0
	if q, ok := b.queues[name]; ok {
		depth += len(q.ready)
	}
	for _, c := range b.conns {
		for _, ch := range c.channels {
			for _, in := range ch.unacked {
				if in.queue == name {
					depth++
				}
			}
		}
	}
	return depth
}

// HasQueue reports whether name was declared.
func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// ExchangeKind returns the declared kind of exchange, or "".
func (b *Broker) ExchangeKind(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exchanges[name]
}

// Bindings lists the patterns bound from exchange to queue, sorted.
func (b *Broker) Bindings(exchange, queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, bd := range b.bindings[exchange] {
		if bd.queue == queueName {
			out = append(out, bd.pattern)
		}
	}
	sort.Strings(out)
	return out
}

// WaitFor polls cond until it holds or timeout elapses.
func (b *Broker) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (b *Broker) publishLocked(exchange, routingKey string, msg amqp.Publishing) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	m := message{pub: msg, exchange: exchange, routingKey: routingKey}

	if exchange == "" {
		q, ok := b.queues[routingKey]
		if !ok {
			return fmt.Errorf("NOT_FOUND - no queue '%s'", routingKey)
		}
		b.published = append(b.published, Published{Exchange: exchange, RoutingKey: routingKey, Msg: msg})
		q.ready = append(q.ready, m)
		b.dispatchLocked()
		return nil
	}

	if _, ok := b.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}
	b.published = append(b.published, Published{Exchange: exchange, RoutingKey: routingKey, Msg: msg})
	routed := map[string]bool{}
	for _, bd := range b.bindings[exchange] {
		if routed[bd.queue] || !broker.MatchRoutingKey(bd.pattern, routingKey) {
			continue
		}
		routed[bd.queue] = true
		b.queues[bd.queue].ready = append(b.queues[bd.queue].ready, m)
	}
	b.dispatchLocked()
	return nil
}

// dispatchLocked hands ready messages to consumers whose channel has prefetch room.
func (b *Broker) dispatchLocked() {
	for _, q := range b.queues {
		for len(q.ready) > 0 {
			c := q.pickConsumer()
			if c == nil {
				break
			}
			m := q.ready[0]
			q.ready = q.ready[1:]
			c.ch.deliverLocked(q.name, c, m)
		}
	}
}

func (q *queue) pickConsumer() *consumer {
	n := len(q.consumers)
	for i := 0; i < n; i++ {
		c := q.consumers[(q.next+i)%n]
		if c.ch.hasRoom() && len(c.out) < cap(c.out) {
			q.next = (q.next + i + 1) % n
			return c
		}
	}
	return nil
}

func (b *Broker) removeConsumerLocked(c *consumer) {
	q, ok := b.queues[c.queue]
	if !ok {
		return
	}
	for i, candidate := range q.consumers {
		if candidate == c {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			break
		}
	}
	if q.next >= len(q.consumers) {
		q.next = 0
	}
	if !c.cancelled {
		c.cancelled = true
		close(c.out)
	}
}

func (b *Broker) requeueLocked(in inflight) {
	q, ok := b.queues[in.queue]
	if !ok {
		return
	}
	in.msg.redelivered = true
	q.ready = append([]message{in.msg}, q.ready...)
}
