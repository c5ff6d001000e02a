package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// moderation workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
	ledgerDuration  *prometheus.HistogramVec
	settlementTotal *prometheus.CounterVec
	backlogGauge    prometheus.Gauge
	sweepRuns       prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	decisionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_decisions_total",
		Help: "Operator decisions by request kind and outcome",
	}, []string{"kind", "outcome"})

	ledgerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_credit_duration_seconds",
		Help:    "Duration of ledger credit calls by classified outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	settlementTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outcomes_total",
		Help: "Settlement outcomes recorded by the coordinator and sweep",
	}, []string{"outcome", "source"})

	backlogGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_backlog",
		Help: "Approved payments whose ledger credit is unconfirmed",
	})

	sweepRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_sweep_runs_total",
		Help: "Completed reconciliation sweep passes",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, decisionTotal, ledgerDuration, settlementTotal, backlogGauge, sweepRuns, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		decisionTotal:   decisionTotal,
		ledgerDuration:  ledgerDuration,
		settlementTotal: settlementTotal,
		backlogGauge:    backlogGauge,
		sweepRuns:       sweepRuns,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordDecision counts an operator decision.
func (m *MetricsService) RecordDecision(kind, outcome string) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveLedgerCall records the timing of a classified ledger credit call.
func (m *MetricsService) ObserveLedgerCall(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ledgerDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSettlement counts a settlement outcome from the coordinator or sweep.
func (m *MetricsService) RecordSettlement(outcome, source string) {
	if m == nil {
		return
	}
	m.settlementTotal.WithLabelValues(outcome, source).Inc()
}

// SetSettlementBacklog publishes the unsettled-request count.
func (m *MetricsService) SetSettlementBacklog(count int) {
	if m == nil {
		return
	}
	m.backlogGauge.Set(float64(count))
}

// RecordSweepRun counts a completed sweep pass.
func (m *MetricsService) RecordSweepRun() {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
}
