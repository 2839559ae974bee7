// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces. Constructors return nil when metrics are disabled;
// every method is safe on a nil receiver.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cliproom/cliproom/pkg/metrics"
)

// gatewayMetrics is the Prometheus implementation of GatewayMetrics.
type gatewayMetrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	activeConnections prometheus.Gauge
	eventDuration     *prometheus.HistogramVec
	eventErrors       *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
}

// NewGatewayMetrics creates the gateway metrics set.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewGatewayMetrics() *gatewayMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &gatewayMetrics{
		connectionsOpened: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_connections_opened_total",
			Help: "Total number of accepted websocket connections",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cliproom_connections_closed_total",
			Help: "Total number of closed websocket connections",
		}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cliproom_connections_active",
			Help: "Current number of live websocket connections",
		}),
		eventDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cliproom_event_duration_seconds",
			Help:    "Dispatch latency of client events by type",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		eventErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cliproom_event_errors_total",
			Help: "Total number of failed client events by type and error code",
		}, []string{"event", "code"}),
		eventsDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cliproom_events_dropped_total",
			Help: "Total number of outbound events dropped on full send queues",
		}, []string{"event"}),
		rateLimited: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cliproom_rate_limited_total",
			Help: "Total number of rejections by rate-limit rule category",
		}, []string{"category"}),
	}
}

func (m *gatewayMetrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
}

func (m *gatewayMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *gatewayMetrics) SetActiveConnections(count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *gatewayMetrics) RecordEvent(eventType string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if errorCode != "" {
		m.eventErrors.WithLabelValues(eventType, errorCode).Inc()
	}
}

func (m *gatewayMetrics) RecordEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

func (m *gatewayMetrics) RecordRateLimited(category string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(category).Inc()
}
