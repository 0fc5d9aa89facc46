package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHWIMetricsRecordCall(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewHWIMetrics(registry)
	require.NoError(t, err)

	m.RecordCall("take-picture", "ok", 3*time.Millisecond)
	m.RecordCall("take-picture", "ok", 4*time.Millisecond)
	m.RecordCall("take-picture", "no-memory", time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.callsTotal.WithLabelValues("take-picture", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.callsTotal.WithLabelValues("take-picture", "no-memory")), 0)

	families, err := registry.Gather()
	require.NoError(t, err)
	h := findFamily(t, families, "camhal_api_call_duration_seconds")
	require.Len(t, h.GetMetric(), 1)
	assert.Equal(t, uint64(3), h.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestHWIMetricsRecordStateIsExclusive(t *testing.T) {
	t.Parallel()

	m, err := NewHWIMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordState("previewing")
	m.RecordState("taking-picture")

	assert.InDelta(t, 1, testutil.ToFloat64(m.sessionState.WithLabelValues("taking-picture")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.sessionState.WithLabelValues("previewing")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.transitions.WithLabelValues("previewing")), 0)
}

func TestJobQueueMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewJobQueueMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordJob("param-alloc", StatusSuccess)
	m.RecordJob("param-alloc", StatusError)
	m.RecordJob("generic", StatusRejected)
	m.SetQueueDepth(4)

	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsTotal.WithLabelValues("param-alloc", StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobsTotal.WithLabelValues("generic", StatusRejected)), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.queueDepth), 0)
}

func TestMuxerMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMuxerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordFrame(OutcomeComposed)
	m.RecordFrame(OutcomeComposed)
	m.RecordFrame(OutcomeFlushed)
	m.SetPending(RoleSecondary, 3)

	assert.InDelta(t, 2, testutil.ToFloat64(m.framesTotal.WithLabelValues(OutcomeComposed)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.pending.WithLabelValues(RoleSecondary)), 0)
}

func TestNotificationMetricsExposition(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewNotificationMetrics(registry)
	require.NoError(t, err)

	m.RecordNotification("job-failed", "no-memory")

	expected := `
# HELP camhal_notifications_total Total number of notifications delivered to the notification sink
# TYPE camhal_notifications_total counter
camhal_notifications_total{code="no-memory",kind="job-failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "camhal_notifications_total"))
}

func TestDoubleRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewMuxerMetrics(registry)
	require.NoError(t, err)
	_, err = NewMuxerMetrics(registry)
	assert.Error(t, err)
}

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	require.Failf(t, "metric family not found", "name %s", name)
	return nil
}
