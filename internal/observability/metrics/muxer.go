package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MuxerMetrics contains Prometheus metrics for dual device frame composition
type MuxerMetrics struct {
	registry *prometheus.Registry

	framesTotal *prometheus.CounterVec
	pending     *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewMuxerMetrics creates and registers new muxer metrics
func NewMuxerMetrics(registry *prometheus.Registry) (*MuxerMetrics, error) {
	m := &MuxerMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MuxerMetrics) initMetrics() {
	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_muxer_frames_total",
			Help: "Total number of frames handled by the muxer by outcome",
		},
		[]string{"outcome"}, // outcome: composed, passthrough, failed, dropped, flushed, discarded
	)

	m.pending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "camhal_muxer_pending_frames",
			Help: "Number of unmatched frames waiting for their counterpart",
		},
		[]string{"role"},
	)

	m.collectors = []prometheus.Collector{m.framesTotal, m.pending}
}

// Describe implements the Collector interface
func (m *MuxerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *MuxerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordFrame records the outcome for one frame or pair
func (m *MuxerMetrics) RecordFrame(outcome string) {
	m.framesTotal.WithLabelValues(outcome).Inc()
}

// SetPending reports the unmatched artifact count for role
func (m *MuxerMetrics) SetPending(role string, count int) {
	m.pending.WithLabelValues(role).Set(float64(count))
}
