package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several servers can coexist in one process
// (tests build many). All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	responses               *prometheus.CounterVec
	degraded                *prometheus.CounterVec
	caughtInEndpointHandler prometheus.Counter
	afterResponseSent       prometheus.Counter
	ledgerAttempts          *prometheus.CounterVec
	ledgerUnavailable       *prometheus.CounterVec
	ledgerLatency           *prometheus.HistogramVec
	signatures              *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_responses_total",
			Help: "Responses written per endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_degraded_responses_total",
			Help: "Authorizations granted without ledger confirmation.",
		}, []string{"endpoint"}),
		caughtInEndpointHandler: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signer_errors_caught_in_endpoint_handler_total",
			Help: "Unexpected failures converted to a generic error response.",
		}),
		afterResponseSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signer_errors_after_response_sent_total",
			Help: "Unexpected failures raised after a response was already written.",
		}),
		ledgerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_ledger_attempts_total",
			Help: "Individual ledger call attempts per operation and result.",
		}, []string{"op", "result"}),
		ledgerUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_ledger_unavailable_total",
			Help: "Logical ledger calls that exhausted their retries.",
		}, []string{"op"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signer_ledger_attempt_seconds",
			Help:    "Latency of individual ledger call attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signer_signatures_total",
			Help: "Key provider invocations per purpose and result.",
		}, []string{"purpose", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.responses,
		m.degraded,
		m.caughtInEndpointHandler,
		m.afterResponseSent,
		m.ledgerAttempts,
		m.ledgerUnavailable,
		m.ledgerLatency,
		m.signatures,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveResponse(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) ObserveDegraded(endpoint string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ErrorCaughtInEndpointHandler() {
	if m == nil {
		return
	}
	m.caughtInEndpointHandler.Inc()
}

func (m *Metrics) ErrorAfterResponseSent() {
	if m == nil {
		return
	}
	m.afterResponseSent.Inc()
}

func (m *Metrics) ObserveLedgerAttempt(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerAttempts.WithLabelValues(op, result).Inc()
	m.ledgerLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLedgerUnavailable(op string) {
	if m == nil {
		return
	}
	m.ledgerUnavailable.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveSignature(purpose, result string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(purpose, result).Inc()
}
