// Package metrics registers and exposes the service's Prometheus
// instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the service emits. One instance is
// created at startup and threaded through the components that record.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	OrchestrationsTotal *prometheus.CounterVec
	EyeInvocations      *prometheus.CounterVec
	EyeDuration         *prometheus.HistogramVec
	QuotaRejections     *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	EventsPublished     prometheus.Counter
	WSConnections       prometheus.Gauge
}

// New registers all instruments against reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thirdeye_requests_total",
			Help: "HTTP requests by method, path template and outcome code.",
		}, []string{"method", "path", "code"}),
		OrchestrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thirdeye_orchestrations_total",
			Help: "Completed orchestrations by final code.",
		}, []string{"code"}),
		EyeInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thirdeye_eye_invocations_total",
			Help: "Eye invocations by eye name and outcome.",
		}, []string{"eye", "outcome"}),
		EyeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thirdeye_eye_duration_seconds",
			Help:    "Wall-clock duration of eye invocations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"eye"}),
		QuotaRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thirdeye_quota_rejections_total",
			Help: "Requests rejected by the tenant quota.",
		}, []string{"tenant"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "thirdeye_provider_errors_total",
			Help: "Classified provider failures by kind.",
		}, []string{"kind"}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "thirdeye_pipeline_events_published_total",
			Help: "Events published on the pipeline bus.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "thirdeye_websocket_connections",
			Help: "Currently attached pipeline observers.",
		}),
	}
}
