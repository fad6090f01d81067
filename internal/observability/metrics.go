package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes prometheus collectors for the HTTP surface and the chat core.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	slaTransitions       *prometheus.CounterVec
	duplicateInbound     prometheus.Counter
	ownershipRetries     prometheus.Counter
	conversationsCreated prometheus.Counter
	outboundFailures     prometheus.Counter
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatdesk_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_http_errors_total",
			Help: "HTTP errors by path, method and error code.",
		}, []string{"path", "method", "code"}),
		slaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_sla_transitions_total",
			Help: "SLA transitions applied by session kind.",
		}, []string{"kind", "transition"}),
		duplicateInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_inbound_duplicates_total",
			Help: "Inbound deliveries dropped as duplicates.",
		}),
		ownershipRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_ownership_conflict_retries_total",
			Help: "Ownership period creation attempts retried after a write conflict.",
		}),
		conversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_conversations_created_total",
			Help: "Conversations created on first contact.",
		}),
		outboundFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_outbound_failures_total",
			Help: "Outbound messages persisted as pending after a send failure.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.errors,
		m.slaTransitions,
		m.duplicateInbound,
		m.ownershipRetries,
		m.conversationsCreated,
		m.outboundFailures,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

func (m *Metrics) RecordSLATransition(kind, transition string) {
	if m == nil {
		return
	}
	m.slaTransitions.WithLabelValues(kind, transition).Inc()
}

func (m *Metrics) RecordDuplicateInbound() {
	if m == nil {
		return
	}
	m.duplicateInbound.Inc()
}

func (m *Metrics) RecordOwnershipRetry() {
	if m == nil {
		return
	}
	m.ownershipRetries.Inc()
}

func (m *Metrics) RecordConversationCreated() {
	if m == nil {
		return
	}
	m.conversationsCreated.Inc()
}

func (m *Metrics) RecordOutboundFailure() {
	if m == nil {
		return
	}
	m.outboundFailures.Inc()
}
