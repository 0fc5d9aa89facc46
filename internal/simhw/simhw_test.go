package simhw

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/hwi"
	"github.com/tphakala/camhal/internal/muxer"
)

const DefaultTestTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDeviceEnforcesOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevice(0)

	err := d.InitParameters(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(err))

	require.NoError(t, d.AllocateParameters(ctx))
	require.NoError(t, d.InitParameters(ctx))
	require.NoError(t, d.ApplyParameters(ctx, hwi.Params{"iso": "100"}))
	assert.Equal(t, hwi.Params{"iso": "100"}, d.Applied())

	assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(d.AllocateStreamBuffers(ctx, hwi.StreamPreview)))
	require.NoError(t, d.AllocateMetadata(ctx, 4, 1024))
	require.NoError(t, d.AllocateStreamBuffers(ctx, hwi.StreamPreview))
	require.NoError(t, d.StartStream(ctx, hwi.StreamPreview))
	assert.True(t, d.Running(hwi.StreamPreview))
	assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(d.ReleaseStreamBuffers(ctx, hwi.StreamPreview)))

	require.NoError(t, d.AllocateStreamBuffers(ctx, hwi.StreamSnapshot))
	assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(d.StartStream(ctx, hwi.StreamSnapshot)),
		"snapshot needs a started post processor")

	require.NoError(t, d.InitPostProcessor(ctx))
	require.NoError(t, d.CreateEncodeSession(ctx))
	require.NoError(t, d.StartPostProcessor(ctx))
	require.NoError(t, d.StartStream(ctx, hwi.StreamSnapshot))
	require.NoError(t, d.CaptureSnapshot(ctx))
	assert.Equal(t, 1, d.Captures())

	err = d.Close()
	require.Error(t, err, "closing with running streams is reported")
	assert.Equal(t, errors.CodeDeviceFailure, errors.CodeOf(err))
	assert.True(t, d.Closed())
	assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(d.StopStream(ctx, hwi.StreamPreview)))
}

func TestDeviceFaultInjection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevice(0)
	d.FailWith(OpAllocateParams, errors.CodeNoMemory)

	err := d.AllocateParameters(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoMemory, errors.CodeOf(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))

	d.FailWith(OpAllocateParams, errors.CodeOK)
	require.NoError(t, d.AllocateParameters(ctx))
}

func TestDeviceLatencyHonorsContext(t *testing.T) {
	t.Parallel()

	d := NewDevice(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := d.AllocateParameters(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcatMerger(t *testing.T) {
	t.Parallel()

	m := ConcatMerger{Separator: []byte("|")}
	out, err := m.Merge(context.Background(), muxer.BytesBuffer("left"), muxer.BytesBuffer("right"))
	require.NoError(t, err)
	assert.Equal(t, "left|right", string(out.Bytes()))

	_, err = m.Merge(context.Background(), muxer.BytesBuffer("left"), muxer.BytesBuffer(nil))
	require.Error(t, err)
	assert.Equal(t, errors.CodeBadValue, errors.CodeOf(err))
}

type countingSink struct {
	composed    atomic.Int64
	passthrough atomic.Int64
}

func (s *countingSink) Deliver(out muxer.Output) {
	if out.Composed {
		s.composed.Add(1)
		return
	}
	s.passthrough.Add(1)
}

// A dual device session composes every frame both pipelines produce and returns
// every buffer to its pipeline
func TestDualDeviceSessionEndToEnd(t *testing.T) {
	t.Parallel()

	const frames = 20
	ctx := context.Background()
	sink := &countingSink{}
	mux, err := muxer.NewSynchronizer(&muxer.Config{
		Merger:     ConcatMerger{Separator: []byte("+")},
		Sink:       sink,
		MaxPending: frames,
	})
	require.NoError(t, err)
	mux.Start(ctx)

	device := NewDevice(time.Millisecond)
	session, err := hwi.Open(ctx, device, &hwi.Config{Devices: 2, Compositor: mux})
	require.NoError(t, err)

	require.NoError(t, session.SetParameters(ctx, hwi.Params{"scene": "auto"}))
	require.NoError(t, session.StartPreview(ctx))
	assert.True(t, mux.CompositionEnabled())

	primary := &Pipeline{Role: muxer.RolePrimary, Frames: frames, Interval: time.Millisecond, Jitter: 200 * time.Microsecond}
	secondary := &Pipeline{Role: muxer.RoleSecondary, Frames: frames, Interval: time.Millisecond, Jitter: 200 * time.Microsecond}

	var g errgroup.Group
	g.Go(func() error { return primary.Run(ctx, mux) })
	g.Go(func() error { return secondary.Run(ctx, mux) })
	require.NoError(t, g.Wait())

	require.Eventually(t, func() bool {
		return sink.composed.Load() == frames
	}, DefaultTestTimeout, 5*time.Millisecond)

	require.NoError(t, session.TakePicture(ctx))
	require.Eventually(t, func() bool {
		return session.State() == hwi.StatePreviewing
	}, DefaultTestTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, device.Captures())

	require.NoError(t, session.Close(ctx))
	mux.Stop()

	assert.True(t, device.Closed())
	assert.False(t, mux.CompositionEnabled())
	assert.Zero(t, primary.Outstanding())
	assert.Zero(t, secondary.Outstanding())
	assert.Zero(t, sink.passthrough.Load())
}

func TestPipelineSkipsFrames(t *testing.T) {
	t.Parallel()

	var got []uint32
	p := &Pipeline{Role: muxer.RolePrimary, Frames: 6, SkipEvery: 3, FirstIdx: 10}
	err := p.Run(context.Background(), submitFunc(func(a *muxer.FrameArtifact) error {
		got = append(got, a.FrameIndex)
		a.Release()
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 11, 13, 14}, got)
	assert.Equal(t, int64(4), p.Produced())
	assert.Zero(t, p.Outstanding())
}

type submitFunc func(a *muxer.FrameArtifact) error

func (f submitFunc) Submit(a *muxer.FrameArtifact) error { return f(a) }
