package observability

import (
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// since every instance owns its registry
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Registry())
			assert.NotNil(t, m.HWI)
			assert.NotNil(t, m.JobQueue)
			assert.NotNil(t, m.Muxer)
			assert.NotNil(t, m.Notifications)
		})
	}
	wg.Wait()
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Notifications.RecordNotification("job-failed", "no-memory")

	e, err := NewEndpoint("127.0.0.1:0", m)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	t.Cleanup(e.Shutdown)

	resp, err := http.Get("http://" + e.Addr() + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `camhal_notifications_total{code="no-memory",kind="job-failed"} 1`)
}

func TestNewEndpointRequiresAddress(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint("", m)
	assert.Error(t, err)
}
