package broker

import (
	"context"
	"errors"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/metrics"
)

const (
	contentTypeJSON = "application/json"

	// HeaderEventVersion mirrors the envelope version for consumers that route on headers.
	HeaderEventVersion = "x-event-version"
)

// Publisher sends envelopes to the topic exchange with persistent delivery and waits for
// the broker confirm. It does not wait for any consumer.
type Publisher struct {
	manager *ConnectionManager
	source  string
	logg    *logger.Logger
	metrics *metrics.EventMetrics

	mu sync.Mutex
	ch Channel
}

var _ events.Emitter = (*Publisher)(nil)

func NewPublisher(manager *ConnectionManager, source string, logg *logger.Logger, m *metrics.EventMetrics) (*Publisher, error) {
	if manager == nil {
		return nil, errors.New("connection manager is required")
	}
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("publisher source is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Publisher{
		manager: manager,
		source:  strings.TrimSpace(source),
		logg:    logg,
		metrics: m,
	}, nil
}

// Publish wraps payload in a new envelope and routes it by eventType. The correlation id is
// taken from ctx so follow-on events stay on the causal chain of the event being handled.
func (p *Publisher) Publish(ctx context.Context, eventType enums.EventType, payload any) error {
	body, envelope, err := events.Encode(eventType, payload, p.source, events.CorrelationIDFromContext(ctx))
	if err != nil {
		p.metrics.IncPublished(string(eventType), err)
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode event")
	}

	msg := amqp.Publishing{
		Headers:       amqp.Table{HeaderEventVersion: envelope.Version},
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		MessageId:     envelope.EventID,
		CorrelationId: envelope.CorrelationID,
		Timestamp:     envelope.Timestamp,
		Type:          string(envelope.EventType),
		AppId:         envelope.Source,
		Body:          body,
	}

	logCtx := p.logg.WithEvent(ctx, envelope.EventID, string(envelope.EventType), envelope.CorrelationID)
	err = p.send(ctx, p.manager.Exchange(), string(eventType), msg)
	p.metrics.IncPublished(string(eventType), err)
	if err != nil {
		p.logg.Error(logCtx, "event publish failed", err)
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish "+string(eventType))
	}
	p.logg.Debug(logCtx, "event published")
	return nil
}

// PublishToQueue sends an already-built message straight to queue through the default exchange.
// The consumer loop uses it for redelivery copies and dead letters.
func (p *Publisher) PublishToQueue(ctx context.Context, queue string, msg amqp.Publishing) error {
	if strings.TrimSpace(queue) == "" {
		return errors.New("queue is required")
	}
	msg.DeliveryMode = amqp.Persistent
	return p.send(ctx, "", queue, msg)
}

func (p *Publisher) send(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch, err := p.channel(ctx)
		if err != nil {
			return err
		}
		err = ch.Publish(ctx, exchange, routingKey, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if !ch.IsClosed() {
			return err
		}
		// A closed channel is reopened once, on a fresh connection if necessary.
		p.ch = nil
	}
	return lastErr
}

func (p *Publisher) channel(ctx context.Context) (Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.manager.Channel(ctx)
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// Close releases the publisher's channel. The connection belongs to the manager.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
