package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for consumed messages.
const (
	OutcomeAcked       = "acked"
	OutcomeDuplicate   = "duplicate"
	OutcomeUnsupported = "unsupported"
	OutcomePoison      = "poison"
	OutcomeRetried     = "retried"
	OutcomeRequeued    = "requeued"
	OutcomeDeadLetter  = "dead_lettered"
)

// EventMetrics records publish and consume activity on the event bus.
type EventMetrics struct {
	consumed      *prometheus.CounterVec
	handleLatency *prometheus.HistogramVec
	published     *prometheus.CounterVec
	deadLetters   *prometheus.CounterVec
}

// NewEventMetrics registers the event bus metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	if reg == nil {
		return &EventMetrics{}
	}
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_consumed_total",
		Help: "Messages taken off a queue, by outcome.",
	}, []string{"queue", "event_type", "outcome"})
	handleLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "events_handle_duration_seconds",
		Help:    "Time spent processing one message in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"queue", "event_type"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Publish attempts, by result.",
	}, []string{"event_type", "result"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dead_lettered_total",
		Help: "Messages moved to a dead-letter queue.",
	}, []string{"queue", "reason"})
	reg.MustRegister(consumed, handleLatency, published, deadLetters)
	return &EventMetrics{
		consumed:      consumed,
		handleLatency: handleLatency,
		published:     published,
		deadLetters:   deadLetters,
	}
}

// ObserveConsumed counts one processed message and its latency.
func (m *EventMetrics) ObserveConsumed(queue, eventType, outcome string, duration time.Duration) {
	if m == nil || m.consumed == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.consumed.WithLabelValues(normalizeLabel(queue), eventType, normalizeLabel(outcome)).Inc()
	m.handleLatency.WithLabelValues(normalizeLabel(queue), eventType).Observe(duration.Seconds())
}

// IncPublished counts one publish attempt.
func (m *EventMetrics) IncPublished(eventType string, err error) {
	if m == nil || m.published == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(normalizeLabel(eventType), result).Inc()
}

// IncDeadLetter counts one dead-lettered message.
func (m *EventMetrics) IncDeadLetter(queue, reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(queue), normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
