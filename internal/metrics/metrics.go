package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync core's Prometheus collectors.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	UnknownDevices    prometheus.Counter
	CommandsPublished *prometheus.CounterVec
	AlertsCreated     *prometheus.CounterVec
	AlertsResolved    *prometheus.CounterVec
	SweepErrors       *prometheus.CounterVec
	TwinsStale        prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "router",
				Name:      "messages_received_total",
				Help:      "Inbound MQTT messages by topic class",
			},
			[]string{"topic"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "router",
				Name:      "messages_dropped_total",
				Help:      "Messages dropped before dispatch",
			},
			[]string{"reason"},
		),
		UnknownDevices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "router",
				Name:      "unknown_devices_total",
				Help:      "Messages rejected by admission control",
			},
		),
		CommandsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "twin",
				Name:      "commands_published_total",
				Help:      "Outbound device commands by origin",
			},
			[]string{"origin"},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "alerts",
				Name:      "created_total",
				Help:      "Alerts created by category",
			},
			[]string{"category"},
		),
		AlertsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "alerts",
				Name:      "resolved_total",
				Help:      "Alerts auto-resolved by category",
			},
			[]string{"category"},
		),
		SweepErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "scheduler",
				Name:      "sweep_errors_total",
				Help:      "Per-item failures during background sweeps",
			},
			[]string{"sweep"},
		),
		TwinsStale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hydrosync",
				Subsystem: "scheduler",
				Name:      "twins_marked_stale_total",
				Help:      "Twins marked stale by the staleness sweep",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.UnknownDevices,
		m.CommandsPublished,
		m.AlertsCreated,
		m.AlertsResolved,
		m.SweepErrors,
		m.TwinsStale,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
