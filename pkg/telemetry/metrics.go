package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счетчики и гистограммы приложения.
// Регистрируются в отдельном Registry, чтобы тесты не конфликтовали
// с глобальным состоянием prometheus.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestDuration *prometheus.HistogramVec
	MessagesSent        prometheus.Counter
	EventsFannedOut     *prometheus.CounterVec
	WSConnections       prometheus.Gauge
	CacheMisses         *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "messenger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_sent_total",
			Help: "Total number of messages accepted by the chat service",
		}),
		EventsFannedOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_events_fanned_out_total",
			Help: "Total number of realtime events broadcast to rooms",
		}, []string{"event"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_websocket_connections",
			Help: "Number of open websocket connections",
		}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_cache_misses_total",
			Help: "Cache misses by key kind",
		}, []string{"kind"}),
	}
}
