package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEventMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewEventMetrics(reg)

	metrics.ObserveConsumed("comm.events", "student.created", OutcomeAcked, 250*time.Millisecond)
	metrics.ObserveConsumed("comm.events", "", OutcomePoison, time.Millisecond)
	metrics.IncPublished("student.created", nil)
	metrics.IncPublished("student.created", errors.New("closed"))
	metrics.IncDeadLetter("comm.events", "max_redeliveries")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "events_consumed_total", map[string]string{"outcome": OutcomeAcked, "event_type": "student.created"}); err != nil {
		t.Fatalf("fetch consumed: %v", err)
	} else if got != 1 {
		t.Fatalf("expected consumed=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "events_consumed_total", map[string]string{"outcome": OutcomePoison, "event_type": "unknown"}); err != nil {
		t.Fatalf("fetch poison: %v", err)
	} else if got != 1 {
		t.Fatalf("expected poison=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "events_published_total", map[string]string{"result": "error"}); err != nil {
		t.Fatalf("fetch published: %v", err)
	} else if got != 1 {
		t.Fatalf("expected publish error=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "events_dead_lettered_total", map[string]string{"reason": "max_redeliveries"}); err != nil {
		t.Fatalf("fetch dead letters: %v", err)
	} else if got != 1 {
		t.Fatalf("expected dead letters=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "events_handle_duration_seconds", map[string]string{"event_type": "student.created"}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilEventMetricsIsNoop(t *testing.T) {
	var metrics *EventMetrics
	metrics.ObserveConsumed("q", "t", OutcomeAcked, time.Second)
	metrics.IncPublished("t", nil)
	metrics.IncDeadLetter("q", "poison")

	NewEventMetrics(nil).IncPublished("t", nil)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == name && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
