package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewBackorderMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBackorderMetricsWithRegisterer(reg)

	if m.mutations == nil || m.rejections == nil || m.queryDuration == nil || m.breakerState == nil {
		t.Fatal("collectors should not be nil")
	}

	again := NewBackorderMetricsWithRegisterer(reg)
	if again.versionRetries != m.versionRetries {
		t.Fatal("second registration should reuse existing collectors")
	}
}

func TestRecordMutationAndRejection(t *testing.T) {
	m := NewBackorderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordMutation("deliver", 10*time.Millisecond)
	m.RecordMutation("deliver", 5*time.Millisecond)
	m.RecordRejection("deliver", "quantity_exceeds_remaining")

	if got := counterValue(t, m.mutations.WithLabelValues("deliver")); got != 2 {
		t.Errorf("expected 2 mutations, got %f", got)
	}
	if got := counterValue(t, m.rejections.WithLabelValues("deliver", "quantity_exceeds_remaining")); got != 1 {
		t.Errorf("expected 1 rejection, got %f", got)
	}
}

func TestRecordQueryCountsErrors(t *testing.T) {
	m := NewBackorderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordQuery("fetch", time.Millisecond, nil)
	m.RecordQuery("fetch", time.Millisecond, errors.New("boom"))

	if got := counterValue(t, m.queryErrors.WithLabelValues("fetch")); got != 1 {
		t.Errorf("expected 1 query error, got %f", got)
	}
}

func TestListingCounters(t *testing.T) {
	m := NewBackorderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordDedupedRows(3)
	m.RecordDedupedRows(0)
	m.RecordCountsCache(true)
	m.RecordCountsCache(false)
	m.RecordCountsCache(false)
	m.RecordStaleLoad()

	if got := counterValue(t, m.dedupedRows); got != 3 {
		t.Errorf("expected 3 deduplicated rows, got %f", got)
	}
	if got := counterValue(t, m.countsCache.WithLabelValues("miss")); got != 2 {
		t.Errorf("expected 2 misses, got %f", got)
	}
	if got := counterValue(t, m.staleLoads); got != 1 {
		t.Errorf("expected 1 stale load, got %f", got)
	}
}

func TestBreakerStateGauge(t *testing.T) {
	m := NewBackorderMetricsWithRegisterer(prometheus.NewRegistry())
	m.SetBreakerState("records", 2)

	metric := &dto.Metric{}
	if err := m.breakerState.WithLabelValues("records").Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 2 {
		t.Errorf("expected gauge 2, got %f", metric.Gauge.GetValue())
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *BackorderMetrics
	m.RecordMutation("create", time.Millisecond)
	m.RecordRejection("create", "x")
	m.RecordQuery("count", time.Millisecond, nil)
	m.RecordDedupedRows(1)
	m.RecordCountsCache(true)
	m.RecordStaleLoad()
	m.RecordAuditEvent()
	m.RecordOutboxEvent()
	m.RecordVersionRetry()
	m.SetBreakerState("x", 0)
}
