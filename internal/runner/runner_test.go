package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/muxer"
	"github.com/tphakala/camhal/internal/simhw"
)

const testTimeout = 10 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSettings(devices int) *conf.Settings {
	return &conf.Settings{
		Session: conf.SessionSettings{
			Devices:       devices,
			MetadataCount: 4,
			MetadataSize:  256,
			CallTimeout:   2 * time.Second,
			Params:        map[string]string{"jpeg-quality": "80"},
		},
		JobQueue: conf.JobQueueSettings{Capacity: 16, StopTimeout: 2 * time.Second},
		Muxer:    conf.MuxerSettings{ChannelDepth: 4, MaxPending: 32},
		Events:   conf.EventsSettings{BufferSize: 256, Workers: 1},
		Watermill: conf.WatermillSettings{
			Enabled:      true,
			Topic:        "camhal.test",
			OutputBuffer: 16,
		},
		Simulation: conf.SimulationSettings{
			Frames:        20,
			FrameInterval: time.Millisecond,
			Jitter:        200 * time.Microsecond,
			Pictures:      2,
		},
	}
}

// accounted returns how many submitted artifacts reached a final outcome
func accounted(s muxer.Stats) uint64 {
	return 2*(s.Composed+s.Failed) + s.Passthrough + s.Dropped + s.Discarded + s.Flushed
}

func runWithTimeout(t *testing.T, settings *conf.Settings) (*Report, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	return Run(ctx, settings, buildinfo.New("test", ""))
}

func TestRunDualDeviceSession(t *testing.T) {
	report, err := runWithTimeout(t, testSettings(2))
	require.NoError(t, err)

	assert.NotEmpty(t, report.SessionID)
	assert.Equal(t, "released", report.FinalState)
	assert.Equal(t, 2, report.Pictures)
	assert.Equal(t, 2, report.Captured)
	assert.Equal(t, [2]int64{20, 20}, report.Produced)
	assert.Zero(t, report.Outstanding, "every artifact is released")

	frames := report.Frames
	assert.Equal(t, uint64(40), frames.Submitted)
	assert.Equal(t, frames.Submitted, accounted(frames))
	assert.Positive(t, frames.Composed)
	assert.Zero(t, frames.Passthrough, "composition stays on while previewing")
	assert.Zero(t, frames.Failed)
	assert.Equal(t, [2]int{0, 0}, frames.Pending)

	assert.Zero(t, report.Jobs.Failed)
	assert.Positive(t, report.Published, "session state changes reach the subscriber")
}

func TestRunSingleDevicePassesThrough(t *testing.T) {
	settings := testSettings(1)
	settings.Simulation.Pictures = 1

	report, err := runWithTimeout(t, settings)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{20, 0}, report.Produced)
	assert.Zero(t, report.Frames.Composed)
	assert.Equal(t, uint64(20), report.Frames.Passthrough+report.Frames.Flushed)
	assert.Equal(t, 1, report.Captured)
	assert.Zero(t, report.Outstanding)
}

func TestRunSecondarySkipsFrames(t *testing.T) {
	settings := testSettings(2)
	settings.Simulation.SkipEvery = 5
	settings.Simulation.Pictures = 0

	report, err := runWithTimeout(t, settings)
	require.NoError(t, err)

	assert.Equal(t, [2]int64{20, 16}, report.Produced)
	assert.LessOrEqual(t, report.Frames.Composed, uint64(16))
	assert.Equal(t, report.Frames.Submitted, accounted(report.Frames))
	assert.Zero(t, report.Outstanding, "unmatched primaries are released on flush")
}

func TestRunPropagatesInjectedFault(t *testing.T) {
	settings := testSettings(2)
	settings.Simulation.FailOn = simhw.OpAllocateParams

	report, err := runWithTimeout(t, settings)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoMemory, errors.CodeOf(err))

	assert.Equal(t, "released", report.FinalState)
	assert.GreaterOrEqual(t, report.Jobs.Failed, uint64(1))
	assert.Zero(t, report.Frames.Submitted, "preview never started")
	assert.Zero(t, report.Captured)
	assert.Positive(t, report.Published, "the job failure is published")
}

func TestRunServesMetrics(t *testing.T) {
	settings := testSettings(2)
	settings.Simulation.Pictures = 0
	settings.Telemetry = conf.TelemetrySettings{Enabled: true, Listen: "127.0.0.1:0"}

	report, err := runWithTimeout(t, settings)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report.MetricsAddr, "127.0.0.1:"))
	assert.NotEqual(t, "127.0.0.1:0", report.MetricsAddr, "the bound port is reported")
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	settings := testSettings(2)
	settings.Simulation.Frames = 10_000
	settings.Simulation.Pictures = 0

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	report, err := Run(ctx, settings, buildinfo.New("test", ""))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, report.Produced[muxer.RolePrimary], int64(10_000))
	assert.Zero(t, report.Outstanding)
	assert.Equal(t, "released", report.FinalState)
}
