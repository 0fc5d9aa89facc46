// Package metrics provides hardware interface metrics for observability
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HWIMetrics contains Prometheus metrics for the API gate and session state machine
type HWIMetrics struct {
	registry *prometheus.Registry

	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	sessionState *prometheus.GaugeVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// sessionStates lists every state the session gauge tracks
var sessionStates = []string{"preview-stopped", "previewing", "taking-picture", "recording", "released"}

// NewHWIMetrics creates and registers new hardware interface metrics
func NewHWIMetrics(registry *prometheus.Registry) (*HWIMetrics, error) {
	m := &HWIMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HWIMetrics) initMetrics() {
	m.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_api_calls_total",
			Help: "Total number of API calls processed through the gate",
		},
		[]string{"event", "status"},
	)

	m.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "camhal_api_call_duration_seconds",
			Help:    "Time from posting an API call to its result",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"event"},
	)

	m.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_session_transitions_total",
			Help: "Total number of session state transitions by target state",
		},
		[]string{"state"},
	)

	m.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_session_state",
			Help: "Current session state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	m.collectors = []prometheus.Collector{
		m.callsTotal,
		m.callDuration,
		m.transitions,
		m.sessionState,
	}
}

// Describe implements the Collector interface
func (m *HWIMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HWIMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordCall records one processed API call and its latency
func (m *HWIMetrics) RecordCall(event, status string, duration time.Duration) {
	m.callsTotal.WithLabelValues(event, status).Inc()
	m.callDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// RecordState marks state as the current session state
func (m *HWIMetrics) RecordState(state string) {
	m.transitions.WithLabelValues(state).Inc()
	for _, s := range sessionStates {
		if s == state {
			m.sessionState.WithLabelValues(s).Set(1)
			continue
		}
		m.sessionState.WithLabelValues(s).Set(0)
	}
}
