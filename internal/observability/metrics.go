// Package observability provides metrics and monitoring capabilities for camhal.
package observability

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/camhal/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry      *prometheus.Registry
	HWI           *metrics.HWIMetrics
	JobQueue      *metrics.JobQueueMetrics
	Muxer         *metrics.MuxerMetrics
	Notifications *metrics.NotificationMetrics
}

// NewMetrics creates a new instance of Metrics on a private registry.
// Process and Go runtime collectors are registered alongside.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	hwiMetrics, err := metrics.NewHWIMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HWI metrics: %w", err)
	}

	jobMetrics, err := metrics.NewJobQueueMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create job queue metrics: %w", err)
	}

	muxerMetrics, err := metrics.NewMuxerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create muxer metrics: %w", err)
	}

	notificationMetrics, err := metrics.NewNotificationMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification metrics: %w", err)
	}

	return &Metrics{
		registry:      registry,
		HWI:           hwiMetrics,
		JobQueue:      jobMetrics,
		Muxer:         muxerMetrics,
		Notifications: notificationMetrics,
	}, nil
}

// Registry returns the registry all collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux, log *slog.Logger) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(log.Handler(), slog.LevelError),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}
