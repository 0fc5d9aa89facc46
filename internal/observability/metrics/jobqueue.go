package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobQueueMetrics contains Prometheus metrics for the deferred job scheduler
type JobQueueMetrics struct {
	registry *prometheus.Registry

	jobsTotal  *prometheus.CounterVec
	queueDepth prometheus.Gauge

	collectors []prometheus.Collector
}

// NewJobQueueMetrics creates and registers new job scheduler metrics
func NewJobQueueMetrics(registry *prometheus.Registry) (*JobQueueMetrics, error) {
	m := &JobQueueMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *JobQueueMetrics) initMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "camhal_jobs_total",
			Help: "Total number of deferred jobs by command and status",
		},
		[]string{"command", "status"}, // status: success, error, rejected
	)

	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "camhal_jobs_tracked",
			Help: "Number of jobs currently held in the ongoing job table",
		},
	)

	m.collectors = []prometheus.Collector{m.jobsTotal, m.queueDepth}
}

// Describe implements the Collector interface
func (m *JobQueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *JobQueueMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordJob records a job outcome
func (m *JobQueueMetrics) RecordJob(command, status string) {
	m.jobsTotal.WithLabelValues(command, status).Inc()
}

// SetQueueDepth reports the number of tracked jobs
func (m *JobQueueMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
