// Package metrics provides custom Prometheus metrics for notification operations.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains Prometheus metrics for failure notifications
type NotificationMetrics struct {
	NotificationsTotal *prometheus.CounterVec // Notifications by kind and code

	registry *prometheus.Registry
}

// NewNotificationMetrics creates a new instance of NotificationMetrics.
// It returns an error if metric registration fails.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_notifications_total",
			Help: "Total number of notifications delivered to the notification sink",
		},
		[]string{"kind", "code"},
	)
}

// Describe implements the Collector interface
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.NotificationsTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.NotificationsTotal.Collect(ch)
}

// RecordNotification counts one notification
func (m *NotificationMetrics) RecordNotification(kind, code string) {
	m.NotificationsTotal.WithLabelValues(kind, code).Inc()
}
