package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medtrack/medtrack-backend/pkg/broker"
)

type conn struct {
	broker   *Broker
	closed   bool
	channels []*channel
}

func (c *conn) Channel() (broker.Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &channel{broker: c.broker, conn: c, unacked: map[uint64]inflight{}}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *conn) IsClosed() bool {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	return c.closed
}

func (c *conn) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range append([]*channel(nil), c.channels...) {
		ch.closeLocked()
	}
	for i, candidate := range b.conns {
		if candidate == c {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			break
		}
	}
	b.dispatchLocked()
	return nil
}

type consumer struct {
	ch        *channel
	queue     string
	tag       string
	out       chan amqp.Delivery
	stop      chan struct{}
	cancelled bool
}

type channel struct {
	broker    *Broker
	conn      *conn
	closed    bool
	prefetch  int
	unacked   map[uint64]inflight
	consumers []*consumer
}

func (ch *channel) ExchangeDeclare(name, kind string) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return fmt.Errorf("PRECONDITION_FAILED - exchange '%s' already declared as %s", name, existing)
	}
	b.exchanges[name] = kind
	return nil
}

func (ch *channel) QueueDeclare(name string, _ amqp.Table) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if name == "" {
		return errors.New("queue name is required")
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{name: name}
	}
	return nil
}

func (ch *channel) QueueBind(queueName, pattern, exchange string) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return fmt.Errorf("NOT_FOUND - no exchange '%s'", exchange)
	}
	if _, ok := b.queues[queueName]; !ok {
		return fmt.Errorf("NOT_FOUND - no queue '%s'", queueName)
	}
	for _, bd := range b.bindings[exchange] {
		if bd.queue == queueName && bd.pattern == pattern {
			return nil
		}
	}
	b.bindings[exchange] = append(b.bindings[exchange], binding{queue: queueName, pattern: pattern})
	return nil
}

func (ch *channel) Qos(prefetch int) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetch
	return nil
}

func (ch *channel) Consume(ctx context.Context, queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("NOT_FOUND - no queue '%s'", queueName)
	}
	c := &consumer{
		ch:    ch,
		queue: queueName,
		tag:   consumerTag,
		out:   make(chan amqp.Delivery, deliveryBuffer),
		stop:  make(chan struct{}),
	}
	q.consumers = append(q.consumers, c)
	ch.consumers = append(ch.consumers, c)
	b.dispatchLocked()

	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.removeConsumerLocked(c)
			b.mu.Unlock()
		case <-c.stop:
		}
	}()
	return c.out, nil
}

func (ch *channel) Publish(_ context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	return b.publishLocked(exchange, routingKey, msg)
}

func (ch *channel) IsClosed() bool {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	return ch.closed
}

func (ch *channel) Close() error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closeLocked()
	b.dispatchLocked()
	return nil
}

// closeLocked cancels consumers and returns unacknowledged messages to the head of their queues.
func (ch *channel) closeLocked() {
	b := ch.broker
	ch.closed = true
	for _, c := range ch.consumers {
		b.removeConsumerLocked(c)
		close(c.stop)
	}
	ch.consumers = nil

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		b.requeueLocked(ch.unacked[tag])
	}
	ch.unacked = map[uint64]inflight{}

	for i, candidate := range ch.conn.channels {
		if candidate == ch {
			ch.conn.channels = append(ch.conn.channels[:i], ch.conn.channels[i+1:]...)
			break
		}
	}
}

func (ch *channel) hasRoom() bool {
	return !ch.closed && (ch.prefetch <= 0 || len(ch.unacked) < ch.prefetch)
}

func (ch *channel) deliverLocked(queueName string, c *consumer, m message) {
	b := ch.broker
	b.tag++
	tag := b.tag
	ch.unacked[tag] = inflight{queue: queueName, msg: m}
	c.out <- amqp.Delivery{
		Acknowledger:  ch,
		Headers:       m.pub.Headers,
		ContentType:   m.pub.ContentType,
		DeliveryMode:  m.pub.DeliveryMode,
		CorrelationId: m.pub.CorrelationId,
		MessageId:     m.pub.MessageId,
		Timestamp:     m.pub.Timestamp,
		Type:          m.pub.Type,
		AppId:         m.pub.AppId,
		ConsumerTag:   c.tag,
		DeliveryTag:   tag,
		Redelivered:   m.redelivered,
		Exchange:      m.exchange,
		RoutingKey:    m.routingKey,
		Body:          m.pub.Body,
	}
}

// Ack implements amqp.Acknowledger.
func (ch *channel) Ack(tag uint64, _ bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if _, ok := ch.unacked[tag]; !ok {
		return fmt.Errorf("PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}
	delete(ch.unacked, tag)
	b.dispatchLocked()
	return nil
}

// Nack implements amqp.Acknowledger.
func (ch *channel) Nack(tag uint64, _ bool, requeue bool) error {
	b := ch.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	in, ok := ch.unacked[tag]
	if !ok {
		return fmt.Errorf("PRECONDITION_FAILED - unknown delivery tag %d", tag)
	}
	delete(ch.unacked, tag)
	if requeue {
		b.requeueLocked(in)
	}
	b.dispatchLocked()
	return nil
}

// Reject implements amqp.Acknowledger.
func (ch *channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}
