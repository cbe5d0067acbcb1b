package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every collector exported by the gateway.
const namespace = "zonewatch"

// Metrics contains all gateway-level collectors.
type Metrics struct {
	// Subscriber metrics.
	ReadingsReceived *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	Restarts         *prometheus.CounterVec

	// Store metrics.
	QueueDepth       prometheus.Gauge
	RecordsPersisted *prometheus.CounterVec
	StoreErrors      prometheus.Counter
	PurgedRows       prometheus.Counter

	// Rule engine metrics.
	ZoneOccupancy *prometheus.GaugeVec
	EventsEmitted *prometheus.CounterVec

	// Actuation metrics.
	Pulses *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		ReadingsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscriber",
				Name:      "readings_total",
				Help:      "Decoded telemetry readings by device and kind.",
			},
			[]string{"device", "kind"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscriber",
				Name:      "decode_errors_total",
				Help:      "Dropped malformed frames by device and feed.",
			},
			[]string{"device", "feed"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "subscriber",
				Name:      "reconnects_total",
				Help:      "Stream reconnect attempts by device and feed.",
			},
			[]string{"device", "feed"},
		),
		Restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "restarts_total",
				Help:      "Subscriber restarts issued by the health monitor.",
			},
			[]string{"device", "feed"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "queue_depth",
				Help:      "Jobs waiting in the event store writer queue.",
			},
		),
		RecordsPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "records_total",
				Help:      "Rows written to the event store by table.",
			},
			[]string{"table"},
		),
		StoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Persistence failures; each drops one record.",
			},
		),
		PurgedRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "purged_rows_total",
				Help:      "Rows removed by retention purges.",
			},
		),
		ZoneOccupancy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "zone_occupancy",
				Help:      "Last reported absolute occupancy per device zone.",
			},
			[]string{"device", "zone"},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Visible events emitted by the rule engine.",
			},
			[]string{"device", "type"},
		),
		Pulses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actuator",
				Name:      "pulses_total",
				Help:      "Pulse trigger outcomes (started, extended, ignored).",
			},
			[]string{"outcome"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.ReadingsReceived,
		m.DecodeErrors,
		m.Reconnects,
		m.Restarts,
		m.QueueDepth,
		m.RecordsPersisted,
		m.StoreErrors,
		m.PurgedRows,
		m.ZoneOccupancy,
		m.EventsEmitted,
		m.Pulses,
	)

	return m
}

// Handler returns an HTTP handler serving the registry in prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
