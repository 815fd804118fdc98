package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "gateway"

// Metrics groups the collectors of the gateway in their own registry
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated    prometheus.Counter
	PaymentEvents    *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	AddressConflicts prometheus.Counter
	RPCErrors        *prometheus.CounterVec
	ProcessDuration  prometheus.Histogram
}

func New() (m *Metrics) {
	m = &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted with an allocated address.",
		}),
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "payment_events_total",
			Help:      "Payment events by outcome.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"to"}),
		AddressConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "address_conflicts_total",
			Help:      "Addresses handed out by the daemon while bound to an open order.",
		}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed daemon calls by method.",
		}, []string{"method"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "process_duration_seconds",
			Help:      "Duration of a poll and sweep cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.OrdersCreated,
		m.PaymentEvents,
		m.Transitions,
		m.AddressConflicts,
		m.RPCErrors,
		m.ProcessDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() (registry *prometheus.Registry) {
	return m.registry
}

func (m *Metrics) Handler() (handler http.Handler) {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
