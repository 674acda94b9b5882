// Package metrics exposes Prometheus collectors for duplex-rpc.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duplexrpc"

// Call outcomes.
const (
	OutcomeOK                = "ok"
	OutcomeTimeout           = "timeout"
	OutcomeContractViolation = "contract_violation"
	OutcomeNotFound          = "not_found"
	OutcomeError             = "error"
)

// Outbound call kinds.
const (
	KindCall   = "call"
	KindNotify = "notify"
)

type Metrics struct {
	CallsTotal     *prometheus.CounterVec   // Outbound calls by method and outcome
	CallDuration   *prometheus.HistogramVec // Outbound call-with-result latency
	InboundTotal   *prometheus.CounterVec   // Inbound requests by method and outcome
	PendingEntries prometheus.Gauge         // Responses received but not yet collected
	SweptTotal     prometheus.Counter       // Stale responses removed by the sweep
	Sessions       prometheus.Gauge         // Currently tracked sessions
	SessionErrors  prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Outbound remote calls by method, kind and outcome.",
		}, []string{"method", "kind", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Latency of outbound calls that wait for a result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		InboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_requests_total",
			Help:      "Inbound requests dispatched to local methods by method and outcome.",
		}, []string{"method", "outcome"}),
		PendingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_responses",
			Help:      "Responses waiting in the pending-call table.",
		}),
		SweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_responses_total",
			Help:      "Expired responses removed by the periodic sweep.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Currently tracked peer sessions.",
		}),
		SessionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Errors reported for peer sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CallsTotal, m.CallDuration, m.InboundTotal,
			m.PendingEntries, m.SweptTotal, m.Sessions, m.SessionErrors)
	}
	return m
}

// ObserveCall records one outbound call of the given kind. Only KindCall
// feeds the latency histogram.
func (m *Metrics) ObserveCall(method, kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(method, kind, outcome).Inc()
	if kind == KindCall {
		m.CallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveInbound(method, outcome string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingEntries.Set(float64(n))
}

func (m *Metrics) AddSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweptTotal.Add(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.Sessions.Dec()
}

func (m *Metrics) SessionError() {
	if m == nil {
		return
	}
	m.SessionErrors.Inc()
}
