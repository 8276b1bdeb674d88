package main

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "dbloom"

// Metrics holds the server counters. The atomic totals back the INFO
// command; the Prometheus collectors back the /metrics endpoint.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64

	ActiveConnections   prometheus.Gauge
	RejectedConnections prometheus.Counter
	Compactions         prometheus.Counter
	JournalErrors       prometheus.Counter

	commands *prometheus.CounterVec
	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry, so that several
// applications in one test binary do not collide on registration.
func NewMetrics() *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently open.",
		}),
		RejectedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused because -max-conn was reached.",
		}),
		Compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "aof_compactions_total",
			Help:      "Successful journal compactions.",
		}),
		JournalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "aof_write_errors_total",
			Help:      "Commands that could not be appended to the journal.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands processed, by command name.",
		}, []string{"command"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ActiveConnections,
		m.RejectedConnections,
		m.Compactions,
		m.JournalErrors,
		m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// observeCommand counts one command. name must come from the router's
// table or be "unknown", which keeps the label set bounded.
func (m *Metrics) observeCommand(name string) {
	m.commands.WithLabelValues(name).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}
