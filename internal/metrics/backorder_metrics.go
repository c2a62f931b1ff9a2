package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BackorderMetrics содержит метрики мутаций и выборок записей о нехватке.
type BackorderMetrics struct {
	// Мутации
	mutations        *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	versionRetries   prometheus.Counter

	// Выборки
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
	dedupedRows   prometheus.Counter
	countsCache   *prometheus.CounterVec
	staleLoads    prometheus.Counter

	auditEvents  prometheus.Counter
	outboxEvents prometheus.Counter

	breakerState *prometheus.GaugeVec
}

// NewBackorderMetrics регистрирует метрики в DefaultRegisterer.
func NewBackorderMetrics() *BackorderMetrics {
	return NewBackorderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewBackorderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewBackorderMetricsWithRegisterer(registerer prometheus.Registerer) *BackorderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BackorderMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backorders_mutations_total",
			Help: "Total number of successful record mutations",
		}, []string{"action"}),
		rejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backorders_mutation_rejections_total",
			Help: "Total number of rejected record mutations by reason",
		}, []string{"action", "reason"}),
		mutationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "backorders_mutation_duration_seconds",
			Help:    "Duration of record mutations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"action"}),
		versionRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backorders_version_conflict_retries_total",
			Help: "Total number of mutation retries after optimistic lock conflicts",
		}),
		queryDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "backorders_query_duration_seconds",
			Help:    "Duration of record queries in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		queryErrors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backorders_query_errors_total",
			Help: "Total number of failed record queries",
		}, []string{"op"}),
		dedupedRows: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backorders_listing_deduplicated_rows_total",
			Help: "Rows dropped from appended pages because the id was already resident",
		}),
		countsCache: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backorders_status_counts_cache_total",
			Help: "Status count cache lookups by result",
		}, []string{"result"}),
		staleLoads: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backorders_listing_stale_loads_total",
			Help: "Page loads discarded because the listing moved to a newer generation",
		}),
		auditEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backorders_audit_events_total",
			Help: "Total number of audit events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backorders_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		breakerState: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "backorders_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGaugeVec(registerer prometheus.Registerer, opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	collector := prometheus.NewGaugeVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Методы безопасны для nil-получателя: сервисы в тестах работают без метрик.

// RecordMutation учитывает успешную мутацию и её длительность.
func (m *BackorderMetrics) RecordMutation(action string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(action).Inc()
	m.mutationDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRejection учитывает отклонённую мутацию.
func (m *BackorderMetrics) RecordRejection(action, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(action, reason).Inc()
}

// RecordVersionRetry учитывает повтор после конфликта версий.
func (m *BackorderMetrics) RecordVersionRetry() {
	if m == nil {
		return
	}
	m.versionRetries.Inc()
}

// RecordQuery учитывает длительность выборки и ошибку, если она была.
func (m *BackorderMetrics) RecordQuery(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		m.queryErrors.WithLabelValues(op).Inc()
	}
}

// RecordDedupedRows учитывает строки, отброшенные при дедупликации окна.
func (m *BackorderMetrics) RecordDedupedRows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupedRows.Add(float64(n))
}

// RecordCountsCache учитывает попадание или промах кэша счётчиков.
func (m *BackorderMetrics) RecordCountsCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.countsCache.WithLabelValues(result).Inc()
}

// RecordStaleLoad учитывает отброшенный результат устаревшей загрузки.
func (m *BackorderMetrics) RecordStaleLoad() {
	if m == nil {
		return
	}
	m.staleLoads.Inc()
}

// RecordAuditEvent увеличивает счётчик событий аудита.
func (m *BackorderMetrics) RecordAuditEvent() {
	if m == nil {
		return
	}
	m.auditEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *BackorderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// SetBreakerState выставляет состояние предохранителя (0 closed, 1 half-open, 2 open).
func (m *BackorderMetrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}
