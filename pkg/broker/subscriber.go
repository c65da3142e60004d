package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/events/deadletter"
	"github.com/medtrack/medtrack-backend/pkg/events/idempotency"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/metrics"
)

const (
	// HeaderRedeliveryCount counts failed handling attempts of a message.
	HeaderRedeliveryCount = "x-redelivery-count"
	// HeaderDeadLetterReason and HeaderDeadLetterError annotate messages in a dead-letter queue.
	HeaderDeadLetterReason = "x-dead-letter-reason"
	HeaderDeadLetterError  = "x-dead-letter-error"
	HeaderOriginalQueue    = "x-original-queue"

	deadLetterSuffix = ".dlq"
	maxHeaderError   = 512
)

var errDeliveriesClosed = errors.New("deliveries channel closed")

// DeadLetterQueue names the queue that receives messages given up on by queue.
func DeadLetterQueue(queue string) string {
	return queue + deadLetterSuffix
}

// Subscriber runs the consume loop for one service queue.
type Subscriber struct {
	manager     *ConnectionManager
	cfg         brokerPolicy
	logg        *logger.Logger
	idempotency *idempotency.Manager
	deadLetters deadletter.Recorder
	metrics     *metrics.EventMetrics
	consumerTag string

	mu       sync.Mutex
	bindings map[string][]string
}

type brokerPolicy struct {
	exchange        string
	prefetch        int
	maxRedeliveries int
	handlerTimeout  time.Duration
	reconnectDelay  time.Duration
}

// SubscriberOption customises a Subscriber.
type SubscriberOption func(*Subscriber)

// WithIdempotency skips events whose id the queue already completed.
func WithIdempotency(manager *idempotency.Manager) SubscriberOption {
	return func(s *Subscriber) { s.idempotency = manager }
}

// WithDeadLetterRecorder persists every dead-lettered message.
func WithDeadLetterRecorder(recorder deadletter.Recorder) SubscriberOption {
	return func(s *Subscriber) { s.deadLetters = recorder }
}

func WithMetrics(m *metrics.EventMetrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

func WithConsumerTag(tag string) SubscriberOption {
	return func(s *Subscriber) { s.consumerTag = tag }
}

func NewSubscriber(manager *ConnectionManager, logg *logger.Logger, opts ...SubscriberOption) (*Subscriber, error) {
	if manager == nil {
		return nil, errors.New("connection manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	cfg := manager.Config()
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	s := &Subscriber{
		manager: manager,
		cfg: brokerPolicy{
			exchange:        cfg.Exchange,
			prefetch:        prefetch,
			maxRedeliveries: cfg.MaxRedeliveries,
			handlerTimeout:  cfg.HandlerTimeout,
			reconnectDelay:  cfg.ReconnectDelay,
		},
		logg:     logg,
		bindings: map[string][]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeclareQueue declares queue durable, binds it to every pattern on the exchange and declares
// its dead-letter queue. It is idempotent and is replayed on every reconnect.
func (s *Subscriber) DeclareQueue(ctx context.Context, queue string, patterns []string) error {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return errors.New("queue name is required")
	}
	if len(patterns) == 0 {
		return fmt.Errorf("queue %s needs at least one binding pattern", queue)
	}
	for _, pattern := range patterns {
		if err := ValidatePattern(pattern); err != nil {
			return err
		}
	}

	ch, err := s.manager.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := s.declare(ch, queue, patterns); err != nil {
		return err
	}

	s.mu.Lock()
	s.bindings[queue] = append([]string(nil), patterns...)
	s.mu.Unlock()

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"queue":    queue,
		"patterns": patterns,
	}), "queue declared")
	return nil
}

func (s *Subscriber) declare(ch Channel, queue string, patterns []string) error {
	if err := ch.QueueDeclare(queue, nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "declare queue "+queue)
	}
	if err := ch.QueueDeclare(DeadLetterQueue(queue), nil); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "declare queue "+DeadLetterQueue(queue))
	}
	for _, pattern := range patterns {
		if err := ch.QueueBind(queue, pattern, s.cfg.exchange); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("bind %s to %s", queue, pattern))
		}
	}
	return nil
}

// Consume blocks, handing messages from queue to handler one at a time, until ctx is done.
// Dropped channels are reopened through the connection manager; when the broker stays
// unreachable the manager's error is returned.
func (s *Subscriber) Consume(ctx context.Context, queue string, handler events.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return errors.New("queue name is required")
	}
	ctx = s.logg.WithQueue(ctx, queue)

	for {
		err := s.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			s.logg.Info(ctx, "consumer stopped")
			return nil
		}
		if !errors.Is(err, errDeliveriesClosed) {
			return err
		}
		s.logg.Warn(ctx, "consumer channel closed; reconnecting")
		if err := sleepContext(ctx, s.cfg.reconnectDelay); err != nil {
			return nil
		}
	}
}

func (s *Subscriber) consumeOnce(ctx context.Context, queue string, handler events.Handler) error {
	ch, err := s.manager.Channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	s.mu.Lock()
	patterns, declared := s.bindings[queue]
	s.mu.Unlock()
	if declared {
		if err := s.declare(ch, queue, patterns); err != nil {
			return err
		}
	}

	if err := ch.Qos(s.cfg.prefetch); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set prefetch")
	}
	deliveries, err := ch.Consume(ctx, queue, s.consumerTag)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume "+queue)
	}
	s.logg.Info(s.logg.WithField(ctx, "prefetch", s.cfg.prefetch), "consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			s.handleDelivery(ctx, ch, queue, handler, delivery)
		}
	}
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionDeadLetter
)

type processResult struct {
	action    action
	outcome   string
	envelope  *events.Envelope
	eventType string
	reason    enums.DeadLetterReason
	err       error
}

func (s *Subscriber) handleDelivery(ctx context.Context, ch Channel, queue string, handler events.Handler, delivery amqp.Delivery) {
	start := time.Now()
	// Work on a message is never interrupted by shutdown; only the optional timeout bounds it.
	msgCtx := context.WithoutCancel(ctx)

	result := s.process(msgCtx, queue, handler, delivery)
	if result.envelope != nil {
		msgCtx = s.logg.WithEvent(msgCtx, result.envelope.EventID, result.eventType, result.envelope.CorrelationID)
	}
	outcome := s.settle(msgCtx, ch, queue, delivery, result)
	s.metrics.ObserveConsumed(queue, result.eventType, outcome, time.Since(start))
}

func (s *Subscriber) process(ctx context.Context, queue string, handler events.Handler, delivery amqp.Delivery) processResult {
	envelope, err := events.Decode(delivery.Body)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"message_id": delivery.MessageId,
			"error":      err.Error(),
		}), "dropping undecodable message")
		return processResult{
			action:    actionDeadLetter,
			outcome:   metrics.OutcomePoison,
			eventType: delivery.Type,
			reason:    enums.DeadLetterReasonPoison,
			err:       pkgerrors.Wrap(pkgerrors.CodePoison, err, "undecodable message"),
		}
	}

	result := processResult{envelope: envelope, eventType: string(envelope.EventType)}
	ctx = s.logg.WithEvent(ctx, envelope.EventID, string(envelope.EventType), envelope.CorrelationID)
	ctx = events.WithCorrelationID(ctx, envelope.CorrelationID)

	eventID := envelope.ParsedEventID()
	trackIdempotency := s.idempotency != nil && eventID != uuid.Nil
	if trackIdempotency {
		// handlers are idempotent on their own keys; an unreachable marker store only costs a re-run
		done, err := s.idempotency.IsProcessed(ctx, queue, eventID)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency check failed; handling anyway")
		}
		if err == nil && done {
			s.logg.Info(ctx, "event already processed")
			result.action = actionAck
			result.outcome = metrics.OutcomeDuplicate
			return result
		}
	}

	handlerCtx := ctx
	if s.cfg.handlerTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, s.cfg.handlerTimeout)
		defer cancel()
	}

	err = handler.Handle(handlerCtx, *envelope)
	switch {
	case err == nil:
		result.action = actionAck
		result.outcome = metrics.OutcomeAcked
	case errors.Is(err, events.ErrUnsupportedEventType):
		s.logg.Info(ctx, "no handler registered; acknowledging")
		result.action = actionAck
		result.outcome = metrics.OutcomeUnsupported
		return result
	case events.IsNonRetryable(err):
		s.logg.Error(ctx, "event handler failed permanently", err)
		result.action = actionDeadLetter
		result.reason = enums.DeadLetterReasonNonRetryable
		result.err = err
		return result
	default:
		s.logg.Error(ctx, "event handler failed", err)
		result.action = actionRetry
		result.err = err
		return result
	}

	if trackIdempotency {
		if _, err := s.idempotency.MarkProcessed(ctx, queue, eventID); err != nil {
			s.logg.Error(ctx, "failed to record processed event", err)
		}
	}
	return result
}

// settle acknowledges, retries or dead-letters the delivery and returns the metrics outcome.
func (s *Subscriber) settle(ctx context.Context, ch Channel, queue string, delivery amqp.Delivery, result processResult) string {
	switch result.action {
	case actionAck:
		s.ack(ctx, delivery)
		return result.outcome
	case actionDeadLetter:
		return s.deadLetter(ctx, ch, queue, delivery, result)
	default:
		return s.retry(ctx, ch, queue, delivery, result)
	}
}

func (s *Subscriber) retry(ctx context.Context, ch Channel, queue string, delivery amqp.Delivery, result processResult) string {
	if s.cfg.maxRedeliveries <= 0 {
		s.requeue(ctx, delivery)
		return metrics.OutcomeRequeued
	}

	attempts := RedeliveryCount(delivery.Headers) + 1
	if attempts >= s.cfg.maxRedeliveries {
		result.reason = enums.DeadLetterReasonMaxRedeliveries
		return s.deadLetter(ctx, ch, queue, delivery, result)
	}

	msg := republishing(delivery)
	msg.Headers[HeaderRedeliveryCount] = int32(attempts)
	if err := ch.Publish(ctx, "", queue, msg); err != nil {
		s.logg.Error(ctx, "failed to republish for retry; requeueing", err)
		s.requeue(ctx, delivery)
		return metrics.OutcomeRequeued
	}
	s.logg.Warn(s.logg.WithField(ctx, "redelivery_count", attempts), "event scheduled for redelivery")
	s.ack(ctx, delivery)
	return metrics.OutcomeRetried
}

func (s *Subscriber) deadLetter(ctx context.Context, ch Channel, queue string, delivery amqp.Delivery, result processResult) string {
	attempts := RedeliveryCount(delivery.Headers)
	if result.reason == enums.DeadLetterReasonMaxRedeliveries {
		attempts++
	}
	errText := ""
	if result.err != nil {
		errText = result.err.Error()
	}

	msg := republishing(delivery)
	msg.Headers[HeaderRedeliveryCount] = int32(attempts)
	msg.Headers[HeaderDeadLetterReason] = string(result.reason)
	msg.Headers[HeaderDeadLetterError] = pkgerrors.Truncate(errText, maxHeaderError)
	msg.Headers[HeaderOriginalQueue] = queue
	publishErr := ch.Publish(ctx, "", DeadLetterQueue(queue), msg)
	if publishErr != nil {
		s.logg.Error(ctx, "failed to publish dead letter", publishErr)
	}

	recordErr := s.recordDeadLetter(ctx, queue, delivery, result, attempts, errText)
	if recordErr != nil {
		s.logg.Error(ctx, "failed to record dead letter", recordErr)
	}

	// Poison messages are always dropped; anything else stays queued until it is stored somewhere.
	if publishErr != nil && recordErr != nil && result.reason != enums.DeadLetterReasonPoison {
		s.requeue(ctx, delivery)
		return metrics.OutcomeRequeued
	}

	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"alert":            result.reason != enums.DeadLetterReasonPoison,
		"dead_letter":      DeadLetterQueue(queue),
		"reason":           string(result.reason),
		"redelivery_count": attempts,
	}), "event dead-lettered", result.err)
	s.metrics.IncDeadLetter(queue, string(result.reason))
	s.ack(ctx, delivery)
	if result.reason == enums.DeadLetterReasonPoison {
		return metrics.OutcomePoison
	}
	return metrics.OutcomeDeadLetter
}

func (s *Subscriber) recordDeadLetter(ctx context.Context, queue string, delivery amqp.Delivery, result processResult, attempts int, errText string) error {
	if s.deadLetters == nil {
		return errors.New("no dead letter recorder configured")
	}
	entry := models.DeadLetter{
		Queue:           queue,
		EventID:         delivery.MessageId,
		EventType:       delivery.Type,
		CorrelationID:   delivery.CorrelationId,
		Body:            delivery.Body,
		Reason:          result.reason,
		RedeliveryCount: attempts,
	}
	if result.envelope != nil {
		entry.EventID = result.envelope.EventID
		entry.EventType = string(result.envelope.EventType)
		entry.CorrelationID = result.envelope.CorrelationID
	}
	if errText != "" {
		entry.ErrorMessage = &errText
	}
	return s.deadLetters.Record(ctx, entry)
}

func (s *Subscriber) ack(ctx context.Context, delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		s.logg.Error(ctx, "failed to ack message", err)
	}
}

func (s *Subscriber) requeue(ctx context.Context, delivery amqp.Delivery) {
	if err := delivery.Nack(false, true); err != nil {
		s.logg.Error(ctx, "failed to nack message", err)
	}
}

// RedeliveryCount reads the retry counter header, tolerating the integer widths brokers hand back.
func RedeliveryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[HeaderRedeliveryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	default:
		return 0
	}
}

func republishing(delivery amqp.Delivery) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	return amqp.Publishing{
		Headers:       headers,
		ContentType:   delivery.ContentType,
		DeliveryMode:  amqp.Persistent,
		MessageId:     delivery.MessageId,
		CorrelationId: delivery.CorrelationId,
		Timestamp:     delivery.Timestamp,
		Type:          delivery.Type,
		AppId:         delivery.AppId,
		Body:          delivery.Body,
	}
}
